package dashboard

import (
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/impactbot/irissync/internal/health"
	isync "github.com/impactbot/irissync/internal/iris/sync"
)

// RunData describes a sync run in sync_started, sync_complete and
// sync_failed messages.
type RunData struct {
	RunID      string     `json:"run_id"`
	SyncType   string     `json:"sync_type"`
	Total      int        `json:"records_processed"`
	Created    int        `json:"records_created"`
	Updated    int        `json:"records_updated"`
	Deleted    int        `json:"records_deleted"`
	Cutoff     *time.Time `json:"cutoff,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
}

// ViewsData describes a view refresh.
type ViewsData struct {
	DurationMS int64 `json:"duration_ms"`
}

// StatusData is the welcome payload: the last event of each kind.
type StatusData struct {
	LastRun     *RunData       `json:"last_run,omitempty"`
	LastFailure *RunData       `json:"last_failure,omitempty"`
	Health      *health.Result `json:"health,omitempty"`
}

// Handler turns sync events and health results into dashboard messages.
// It implements sync.Observer.
type Handler struct {
	server *Server
	logger *log.Logger

	mu     sync.Mutex
	status StatusData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// Observe broadcasts a sync lifecycle event.
func (h *Handler) Observe(e isync.Event) {
	switch e.Type {
	case isync.EventStarted, isync.EventCompleted, isync.EventFailed:
		data := RunData{
			RunID:      e.RunID,
			SyncType:   e.SyncType.Short(),
			Total:      e.Counts.Total,
			Created:    e.Counts.Created,
			Updated:    e.Counts.Updated,
			Deleted:    e.Counts.Deleted,
			Cutoff:     e.Cutoff,
			DurationMS: e.Duration.Milliseconds(),
			Error:      e.Error,
		}

		h.mu.Lock()
		switch e.Type {
		case isync.EventCompleted:
			h.status.LastRun = &data
		case isync.EventFailed:
			h.status.LastRun = &data
			h.status.LastFailure = &data
		}
		h.mu.Unlock()

		h.send(MessageType(e.Type), e.Time, data)

	case isync.EventViewsRefreshed:
		h.send(MessageTypeViewsRefreshed, e.Time, ViewsData{DurationMS: e.Duration.Milliseconds()})
	}
}

// OnHealth broadcasts a health result. It matches health.Config.OnResult.
func (h *Handler) OnHealth(r health.Result) {
	h.mu.Lock()
	h.status.Health = &r
	h.mu.Unlock()

	h.send(MessageTypeHealth, r.CheckedAt, r)
}

// Status returns the last event of each kind.
func (h *Handler) Status() StatusData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handler) send(typ MessageType, at time.Time, payload any) {
	dataJSON, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: dataJSON})
}
