package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrm/emergencystop/internal/metrics"
)

const writeTimeout = 5 * time.Second

// client writes SSE frames to a single subscriber connection.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger

	messagesSent int64
}

// sendEvent writes one named SSE event: "event: <name>\ndata: <json>\n\n".
func (c *client) sendEvent(ev event) error {
	c.extendDeadline()
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", ev.topic, ev.data); err != nil {
		return fmt.Errorf("write %s: %w", ev.topic, err)
	}
	c.flusher.Flush()
	c.messagesSent++
	metrics.IncStreamMessages()
	return nil
}

// sendKeepalive writes an SSE comment line.
func (c *client) sendKeepalive() error {
	c.extendDeadline()
	if _, err := fmt.Fprint(c.w, ":\n\n"); err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	c.flusher.Flush()
	return nil
}

func (c *client) extendDeadline() {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
}
