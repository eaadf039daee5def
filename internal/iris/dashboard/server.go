// Package dashboard provides a real-time WebSocket status feed for the sync
// service.
//
// The dashboard broadcasts run lifecycle events and health results to
// connected WebSocket clients, serves the latest health result at /health
// and the Prometheus registry at /metrics.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/impactbot/irissync/internal/health"
)

// MessageType names a dashboard message.
type MessageType string

const (
	MessageTypeSyncStarted    MessageType = "sync_started"
	MessageTypeSyncComplete   MessageType = "sync_complete"
	MessageTypeSyncFailed     MessageType = "sync_failed"
	MessageTypeViewsRefreshed MessageType = "views_refreshed"
	MessageTypeHealth         MessageType = "health"

	// MessageTypeStatus is the welcome message sent to each new client
	MessageTypeStatus MessageType = "status"
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HealthFunc returns the latest health result, if any.
type HealthFunc func() (health.Result, bool)

// writeTimeout bounds a single frame write to one client.
const writeTimeout = 5 * time.Second

// Config holds server configuration
type Config struct {
	// Port to listen on (0 picks a free port)
	Port int

	// Metrics serves /metrics when set
	Metrics http.Handler

	// Health serves /health when set
	Health HealthFunc

	// Status returns the payload of the welcome message (optional)
	Status func() any

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// Server accepts WebSocket clients and fans broadcast messages out to them.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server

	metrics http.Handler
	health  HealthFunc
	status  func() any
	logger  *log.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	queue chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{Port: 8080}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		metrics: config.Metrics,
		health:  config.Health,
		status:  config.Status,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		queue:   make(chan Message, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.dispatch()
	}()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	clear(s.clients)
	s.mu.Unlock()

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()

	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every connected client. It never blocks; when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case <-s.ctx.Done():
	case s.queue <- msg:
	default:
		s.logger.Printf("Warning: broadcast queue full, dropping %s message", msg.Type)
	}
}

func (s *Server) dispatch() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
				continue
			}
			s.fanOut(data)
		}
	}
}

// fanOut writes data to a snapshot of the clients. Writes happen outside
// the lock so one slow client cannot stall registration.
func (s *Server) fanOut(data []byte) {
	s.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		if err := write(conn, data); err != nil {
			s.logger.Printf("Dropping client: %v", err)
			s.drop(conn)
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Printf("Client connected (total: %d)", n)

	if data, err := json.Marshal(s.welcome()); err == nil {
		_ = write(conn, data)
	}

	// Clients never send anything; reading only detects the disconnect.
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				return
			}
		}
	}()
}

func (s *Server) welcome() Message {
	msg := Message{Type: MessageTypeStatus, Timestamp: time.Now()}
	if s.status == nil {
		return msg
	}
	if data, err := json.Marshal(s.status()); err == nil {
		msg.Data = data
	}
	return msg
}

// drop unregisters and closes conn; repeated calls are no-ops.
func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	n := len(s.clients)
	s.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", n)
	}
}

// handleHealth serves the latest health result. It answers 503 when the
// last check failed or no check has run yet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var (
		result health.Result
		ok     bool
	)
	if s.health != nil {
		result, ok = s.health()
	}
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy": false,
			"error":   "no health check has run yet",
			"clients": s.ClientCount(),
		})
		return
	}

	if !result.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>irissync</title></head>
<body>
<h1>irissync</h1>
<ul>
<li>Run events: <code>ws://%s/ws</code></li>
<li><a href="/health">/health</a></li>
<li><a href="/metrics">/metrics</a></li>
</ul>
</body>
</html>`, r.Host)
}

// GetAddr returns the listening address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
