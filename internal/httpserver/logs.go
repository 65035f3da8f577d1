package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/applog"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
)

const (
	logsWriteWait    = 5 * time.Second
	logsPongWait     = 60 * time.Second
	logsPingInterval = 30 * time.Second
	logsMaxReadBytes = 512
)

// logStreamHandler upgrades to a WebSocket and streams every log line written
// to the broadcaster as one text message. Client messages are ignored.
type logStreamHandler struct {
	logs     *applog.Broadcaster
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func newLogStreamHandler(logs *applog.Broadcaster, m *metrics.Metrics, logger *slog.Logger) *logStreamHandler {
	return &logStreamHandler{
		logs:    logs,
		metrics: m,
		log:     logger,
	}
}

func (h *logStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		return
	}
	defer conn.Close()

	sub := h.logs.Subscribe()
	defer sub.Close()
	h.metrics.Inc(metrics.LogStreamConnections)
	h.log.Debug("log stream subscriber connected", "remote_addr", r.RemoteAddr)

	// Reader: handles pongs and notices when the peer goes away.
	closed := make(chan struct{})
	conn.SetReadLimit(logsMaxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(logsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(logsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(logsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case line, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(logsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(logsWriteWait)); err != nil {
				return
			}
		}
	}
}
