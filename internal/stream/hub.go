package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mrm/emergencystop/internal/control"
	"github.com/mrm/emergencystop/internal/metrics"
)

// Topics carried by the hub.
const (
	TopicControlCommand = "control_cmd"
	TopicStatus         = "status"
)

const subscriberBuffer = 16

// event is one pre-encoded message for a topic.
type event struct {
	topic string
	data  []byte
}

type subscriber struct {
	topic string
	ch    chan event
}

// Hub is the outbound side of the operator. It keeps the latest control
// command and status and fans each publication out to SSE subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the message.
type Hub struct {
	mu          sync.RWMutex
	latest      map[string]event
	lastCommand *control.ControlCommand
	lastStatus  *control.StatusReport
	subs        map[*subscriber]struct{}

	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		latest: make(map[string]event),
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// PublishControlCommand implements control.Publisher.
func (h *Hub) PublishControlCommand(cmd control.ControlCommand) {
	h.mu.Lock()
	h.lastCommand = &cmd
	h.mu.Unlock()
	h.publish(TopicControlCommand, cmd)
}

// PublishStatus implements control.Publisher.
func (h *Hub) PublishStatus(status control.StatusReport) {
	h.mu.Lock()
	h.lastStatus = &status
	h.mu.Unlock()
	h.publish(TopicStatus, status)
}

func (h *Hub) publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.IncStreamErrors("marshal_error")
		h.logger.Warn("stream marshal error", "component", "stream", "topic", topic, "error", err)
		return
	}
	ev := event{topic: topic, data: data}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[topic] = ev
	for s := range h.subs {
		if s.topic != topic {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			metrics.IncStreamDropped()
		}
	}
}

// LatestControlCommand returns the last published command, if any.
func (h *Hub) LatestControlCommand() (control.ControlCommand, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastCommand == nil {
		return control.ControlCommand{}, false
	}
	return *h.lastCommand, true
}

// LatestStatus returns the last published status, if any.
func (h *Hub) LatestStatus() (control.StatusReport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastStatus == nil {
		return control.StatusReport{}, false
	}
	return *h.lastStatus, true
}

// subscribe registers a subscriber for topic. The latest message for the
// topic, if any, is queued immediately.
func (h *Hub) subscribe(topic string) *subscriber {
	s := &subscriber{topic: topic, ch: make(chan event, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev, ok := h.latest[topic]; ok {
		s.ch <- ev
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
