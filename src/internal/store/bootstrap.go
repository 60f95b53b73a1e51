package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

type seedInstruction struct {
	User     string   `yaml:"user"`
	Title    string   `yaml:"title"`
	Content  string   `yaml:"content"`
	Triggers []string `yaml:"triggers"`
}

// BootstrapInstructions seeds standing instructions from a YAML file
// (typically <storage_dir>/instructions.yaml). An instruction is skipped
// when the user already has one with the same title, so repeated startups
// do not duplicate seeds. A missing file is not an error.
func (s *Store) BootstrapInstructions(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read instruction seeds: %w", err)
	}

	var seeds []seedInstruction
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("failed to parse instruction seeds: %w", err)
	}

	created := 0
	for _, seed := range seeds {
		triggers := NormalizeTriggers(seed.Triggers)
		if seed.User == "" || seed.Title == "" || len(triggers) == 0 {
			slog.Warn("skipping invalid instruction seed", "title", seed.Title, "user", seed.User)
			continue
		}
		existing, err := s.ListInstructions(ctx, seed.User, "")
		if err != nil {
			return created, err
		}
		seen := false
		for _, in := range existing {
			if in.Title == seed.Title {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		in := &Instruction{
			UserID:   seed.User,
			Title:    seed.Title,
			Content:  seed.Content,
			Triggers: triggers,
			Status:   InstructionActive,
		}
		if err := s.CreateInstruction(ctx, in); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
