// Package monitor serves read-only HTTP views of a running watch session:
// status, Prometheus metrics and websocket streams of changes and logs.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"treewatch/internal/event"
	"treewatch/internal/logging"
	"treewatch/internal/metrics"
	"treewatch/internal/version"
	"treewatch/internal/watcher"
)

const (
	readHeaderTimeout = 5 * time.Second
	maxReplay         = 256
)

var ErrNotStarted = errors.New("monitor is not started")

type Options struct {
	Addr        string
	SessionID   uuid.UUID
	Root        string
	Command     string
	// State reports the loop state. Nil reports "unknown".
	State       func() string
	// Directories lists the covered directories. Nil leaves the list out.
	Directories func() []string
	Metrics     *metrics.Registry
	Logger      *logging.Logger
	Bus         *event.Bus[watcher.Notification]
	StartedAt   time.Time
	Clock       func() time.Time
}

type Server struct {
	options    Options
	logger     *logging.Logger
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	SessionID          string           `json:"session_id"`
	Root               string           `json:"root"`
	Command            string           `json:"command,omitempty"`
	State              string           `json:"state"`
	WatchedDirectories int              `json:"watched_directories"`
	Directories        []string         `json:"directories,omitempty"`
	StartedAt          time.Time        `json:"started_at"`
	Started            string           `json:"started"`
	UptimeSeconds      int64            `json:"uptime_seconds"`
	Version            string           `json:"version"`
	GitCommit          string           `json:"git_commit,omitempty"`
	Metrics            metrics.Snapshot `json:"metrics"`
}

type notificationPayload struct {
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	Dir       string    `json:"dir"`
	Timestamp time.Time `json:"timestamp"`
}

func New(options Options) *Server {
	if options.SessionID == uuid.Nil {
		options.SessionID = uuid.New()
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	if options.StartedAt.IsZero() {
		options.StartedAt = options.Clock()
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	server := &Server{options: options, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", restHandler(server.handleStatus))
	mux.HandleFunc("/metrics", securityHeadersHandler(cacheControlNoStore, server.handleMetrics))
	mux.HandleFunc("/ws/events", server.handleEvents)
	mux.HandleFunc("/ws/logs", server.handleLogs)
	server.handler = loggingMiddleware(logger, mux)
	return server
}

func (server *Server) Handler() http.Handler {
	return server.handler
}

func (server *Server) SessionID() uuid.UUID {
	return server.options.SessionID
}

// Start binds the listen address and serves in the background.
func (server *Server) Start() error {
	listener, err := net.Listen("tcp", server.options.Addr)
	if err != nil {
		return err
	}
	server.listener = listener
	server.httpServer = &http.Server{
		Handler:           server.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := server.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.logger.Error("monitor server stopped", map[string]string{
				"error": err.Error(),
			})
		}
	}()
	server.logger.Info("monitor listening", map[string]string{
		"addr":       listener.Addr().String(),
		"session_id": server.options.SessionID.String(),
	})
	return nil
}

// Addr is the bound address once started.
func (server *Server) Addr() string {
	if server.listener == nil {
		return ""
	}
	return server.listener.Addr().String()
}

func (server *Server) Shutdown(ctx context.Context) error {
	if server.httpServer == nil {
		return ErrNotStarted
	}
	return server.httpServer.Shutdown(ctx)
}

func (server *Server) Status() StatusResponse {
	now := server.options.Clock()
	snapshot := server.options.Metrics.Snapshot()
	state := "unknown"
	if server.options.State != nil {
		state = server.options.State()
	}
	var directories []string
	if server.options.Directories != nil {
		directories = server.options.Directories()
	}
	info := version.GetVersionInfo()
	return StatusResponse{
		SessionID:          server.options.SessionID.String(),
		Root:               server.options.Root,
		Command:            server.options.Command,
		State:              state,
		WatchedDirectories: server.options.Metrics.WatchedDirectories(),
		Directories:        directories,
		StartedAt:          server.options.StartedAt.UTC(),
		Started:            humanize.RelTime(server.options.StartedAt, now, "ago", "from now"),
		UptimeSeconds:      int64(now.Sub(server.options.StartedAt) / time.Second),
		Version:            info.Version,
		GitCommit:          info.GitCommit,
		Metrics:            snapshot,
	}
}

func (server *Server) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if err := requireGet(w, r); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, server.Status())
	return nil
}

func (server *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := server.options.Metrics.WritePrometheus(w); err != nil {
		server.logger.Warn("metrics write failed", map[string]string{
			"error": err.Error(),
		})
	}
}

// handleEvents streams dispatch notifications. The replay query parameter
// sends up to that many recent notifications first.
func (server *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	bus := server.options.Bus
	if bus == nil {
		writeWSError(w, r, server.logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "event stream unavailable",
		})
		return
	}

	replay := 0
	if raw := r.URL.Query().Get("replay"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeWSError(w, r, server.logger, wsError{
				Status:  http.StatusBadRequest,
				Message: "invalid replay count",
			})
			return
		}
		replay = min(parsed, maxReplay)
	}

	output, cancel := bus.Subscribe()
	defer cancel()

	serveWSStream(w, r, wsStreamConfig[watcher.Notification]{
		Output:       output,
		BuildPayload: buildNotificationPayload,
		Logger:       server.logger,
		PreWrite: func(conn *websocket.Conn) error {
			if replay == 0 {
				return nil
			}
			for _, notification := range bus.History(replay) {
				payload, _ := buildNotificationPayload(notification)
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return err
				}
				if err := conn.WriteJSON(payload); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// handleLogs streams log entries at or above the level query parameter.
func (server *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	minLevel := logging.Level("")
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			writeWSError(w, r, server.logger, wsError{
				Status:  http.StatusBadRequest,
				Message: "invalid log level",
			})
			return
		}
		minLevel = level
	}

	output, cancel := server.logger.Subscribe(minLevel)
	defer cancel()

	serveWSStream(w, r, wsStreamConfig[logging.LogEntry]{
		Output: output,
		Logger: server.logger,
	})
}

func buildNotificationPayload(notification watcher.Notification) (any, bool) {
	timestamp := notification.Timestamp()
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return notificationPayload{
		Type:      notification.Type(),
		Kind:      notification.Kind.String(),
		Path:      notification.Path,
		Dir:       notification.Dir,
		Timestamp: timestamp,
	}, true
}
