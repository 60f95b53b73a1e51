package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// watcher wraps one websocket connection with a write mutex. Tokens for
// different tasks can arrive from concurrent runner goroutines and gorilla
// supports only one writer per connection at a time.
type watcher struct {
	taskID string
	ws     *websocket.Conn

	writeMu sync.Mutex
}

func (w *watcher) send(taskID, token string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.ws.WriteJSON(gin.H{"task_id": taskID, "token": token})
}

// handleWebsocket registers the connection as a watcher for one task
// (?task_id=...) or for all tasks, then blocks reading until the client
// hangs up. Inbound frames are ignored; the feed is one-way.
func (s *Server) handleWebsocket(c *gin.Context) {
	taskID := c.Query("task_id")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	w := &watcher{taskID: taskID, ws: ws}
	s.addWatch(w)
	defer s.removeWatch(w)

	slog.Info("ws watcher connected", "task_id", taskID, "remote", c.ClientIP())
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// PublishToken fans a live answer token out to the task's watchers and the
// firehose watchers. Wire it to the runner's OnToken hook. A watcher whose
// write fails is dropped immediately instead of being retried every token.
func (s *Server) PublishToken(taskID, token string) {
	s.wsMu.RLock()
	watchers := make([]*watcher, 0, len(s.wsWatches[taskID])+len(s.wsWatches[""]))
	watchers = append(watchers, s.wsWatches[taskID]...)
	if taskID != "" {
		watchers = append(watchers, s.wsWatches[""]...)
	}
	s.wsMu.RUnlock()

	for _, w := range watchers {
		if err := w.send(taskID, token); err != nil {
			slog.Warn("dropping websocket watcher", "task_id", taskID, "error", err)
			s.removeWatch(w)
			w.ws.Close()
		}
	}
}

func (s *Server) addWatch(w *watcher) {
	s.wsMu.Lock()
	s.wsWatches[w.taskID] = append(s.wsWatches[w.taskID], w)
	s.wsMu.Unlock()
}

func (s *Server) removeWatch(w *watcher) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	watchers := s.wsWatches[w.taskID]
	for i, existing := range watchers {
		if existing == w {
			s.wsWatches[w.taskID] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
	if len(s.wsWatches[w.taskID]) == 0 {
		delete(s.wsWatches, w.taskID)
	}
}
