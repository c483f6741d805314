package monitor

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"treewatch/internal/logging"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
)

var errWSNilOutput = errors.New("websocket output channel is nil")

type wsStreamConfig[T any] struct {
	Output       <-chan T
	BuildPayload func(T) (any, bool)
	Logger       *logging.Logger
	// PreWrite runs once on the upgraded connection before streaming starts.
	PreWrite func(*websocket.Conn) error
}

type wsError struct {
	Status  int
	Message string
	Err     error
}

type wsErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin:     isSameOrigin,
	}
	return upgrader.Upgrade(w, r, nil)
}

// serveWSStream upgrades the request and writes every value from Output as
// JSON until the channel closes or the client goes away.
func serveWSStream[T any](w http.ResponseWriter, r *http.Request, config wsStreamConfig[T]) {
	if config.Output == nil {
		writeWSError(w, r, config.Logger, wsError{Status: http.StatusServiceUnavailable, Err: errWSNilOutput})
		return
	}

	conn, err := upgradeWebSocket(w, r)
	if err != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	if config.PreWrite != nil {
		if err := config.PreWrite(conn); err != nil {
			return
		}
	}

	buildPayload := config.BuildPayload
	if buildPayload == nil {
		buildPayload = func(value T) (any, bool) {
			return value, true
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case value, ok := <-config.Output:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				payload, ok := buildPayload(value)
				if !ok {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeWSError answers a request that could not be upgraded.
func writeWSError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, wsErr wsError) {
	status := wsErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	reason := strings.TrimSpace(wsErr.Message)
	if reason == "" {
		reason = http.StatusText(status)
	}
	wsErr.Status = status
	wsErr.Message = reason
	logWSError(logger, r, wsErr)
	writeJSON(w, status, wsErrorPayload{Type: "error", Message: reason, Status: status})
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	if logger == nil || r == nil {
		return
	}
	fields := map[string]string{
		"path":    r.URL.Path,
		"status":  strconv.Itoa(wsErr.Status),
		"message": wsErr.Message,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if wsErr.Err != nil {
		fields["error"] = wsErr.Err.Error()
	}
	if wsErr.Status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
	} else {
		logger.Warn("websocket error", fields)
	}
}

// isSameOrigin accepts clients without an Origin header (CLI tools) and
// browsers on the monitor's own host.
func isSameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return strings.EqualFold(origin, r.Host)
}
