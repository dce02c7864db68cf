package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mrm/emergencystop/internal/control"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}
}

var stamp = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func testCommand(speed float64) control.ControlCommand {
	return control.ControlCommand{
		Stamp:        stamp,
		Longitudinal: control.Longitudinal{Stamp: stamp, Speed: speed, Acceleration: -0.05, Jerk: -1.5},
		Lateral:      control.Lateral{Stamp: stamp, SteeringTireAngle: 0.1},
	}
}

// sseEvents parses an SSE body into (event name, data) pairs.
func sseEvents(t *testing.T, body string) [][2]string {
	t.Helper()
	var out [][2]string
	var name string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			out = append(out, [2]string{name, strings.TrimPrefix(line, "data: ")})
			name = ""
		case line == "", line == ":", strings.HasPrefix(line, "retry: "):
		default:
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
	return out
}

func TestHubLatest(t *testing.T) {
	hub := NewHub(testLogger())

	if _, ok := hub.LatestControlCommand(); ok {
		t.Error("LatestControlCommand reported a value before any publish")
	}
	if _, ok := hub.LatestStatus(); ok {
		t.Error("LatestStatus reported a value before any publish")
	}

	hub.PublishControlCommand(testCommand(3))
	hub.PublishStatus(control.StatusReport{Stamp: stamp, State: control.StateOperating})

	cmd, ok := hub.LatestControlCommand()
	if !ok || cmd.Longitudinal.Speed != 3 {
		t.Errorf("LatestControlCommand() = %+v, %v", cmd, ok)
	}
	status, ok := hub.LatestStatus()
	if !ok || status.State != control.StateOperating {
		t.Errorf("LatestStatus() = %+v, %v", status, ok)
	}
}

func TestHubFanOutByTopic(t *testing.T) {
	hub := NewHub(testLogger())
	cmdSub := hub.subscribe(TopicControlCommand)
	statusSub := hub.subscribe(TopicStatus)

	hub.PublishControlCommand(testCommand(5))

	select {
	case ev := <-cmdSub.ch:
		var got control.ControlCommand
		if err := json.Unmarshal(ev.data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Longitudinal.Speed != 5 {
			t.Errorf("speed = %v, want 5", got.Longitudinal.Speed)
		}
	default:
		t.Fatal("control_cmd subscriber received nothing")
	}

	select {
	case ev := <-statusSub.ch:
		t.Errorf("status subscriber received %s event", ev.topic)
	default:
	}

	hub.unsubscribe(cmdSub)
	hub.unsubscribe(statusSub)
	if n := hub.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(testLogger())
	sub := hub.subscribe(TopicStatus)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			hub.PublishStatus(control.StatusReport{Stamp: stamp, State: control.StateAvailable})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(sub.ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(sub.ch), subscriberBuffer)
	}
}

// TestSSEMessageFormat verifies headers and the event/data wire format.
func TestSSEMessageFormat(t *testing.T) {
	hub := NewHub(testLogger())
	hub.PublishControlCommand(testCommand(7.5))
	handler := NewHandler(hub, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/mrm/emergency_stop/control_cmd/stream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 200*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleControlCommand(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	events := sseEvents(t, w.Body.String())
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0][0] != TopicControlCommand {
		t.Errorf("event = %q, want %q", events[0][0], TopicControlCommand)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(events[0][1]), &parsed); err != nil {
		t.Fatalf("invalid JSON in data line: %v", err)
	}
	lon, ok := parsed["longitudinal"].(map[string]any)
	if !ok {
		t.Fatalf("longitudinal = %v", parsed["longitudinal"])
	}
	if lon["speed"].(float64) != 7.5 {
		t.Errorf("speed = %v, want 7.5", lon["speed"])
	}
	lat := parsed["lateral"].(map[string]any)
	if lat["steering_tire_angle"].(float64) != 0.1 {
		t.Errorf("steering_tire_angle = %v, want 0.1", lat["steering_tire_angle"])
	}

	if n := hub.Subscribers(); n != 0 {
		t.Errorf("subscriber leaked after disconnect: %d", n)
	}
}

func TestStatusStreamReceivesLivePublishes(t *testing.T) {
	hub := NewHub(testLogger())
	handler := NewHandler(hub, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/mrm/emergency_stop/status/stream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	go func() {
		for hub.Subscribers() == 0 {
			time.Sleep(time.Millisecond)
		}
		hub.PublishStatus(control.StatusReport{Stamp: stamp, State: control.StateAvailable})
		hub.PublishStatus(control.StatusReport{Stamp: stamp, State: control.StateOperating})
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	handler.HandleStatus(w, req)

	events := sseEvents(t, w.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for i, want := range []string{`"AVAILABLE"`, `"OPERATING"`} {
		if events[i][0] != TopicStatus || !strings.Contains(events[i][1], want) {
			t.Errorf("event %d = %v, want status containing %s", i, events[i], want)
		}
	}
}

// TestRateLimiting verifies per-IP and global concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 5)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond per-IP limit should fail")
	}

	if !limiter.acquire("10.0.0.2") || !limiter.acquire("10.0.0.3") {
		t.Error("different IPs should not be limited")
	}
	if limiter.acquire("10.0.0.4") {
		t.Error("acquire beyond global limit should fail")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}
	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies the 429 response when the limit is hit.
func TestRateLimitHTTPResponse(t *testing.T) {
	hub := NewHub(testLogger())
	handler := NewHandler(hub, Config{
		MaxConcurrentPerIP: 1,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	done := make(chan struct{})
	req := httptest.NewRequest("GET", "/api/v1/mrm/emergency_stop/status/stream", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	go func() {
		defer close(done)
		handler.HandleStatus(httptest.NewRecorder(), req)
	}()

	for hub.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := httptest.NewRequest("GET", "/api/v1/mrm/emergency_stop/status/stream", nil)
	second.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleStatus(w, second)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	cancel()
	<-done
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{name: "ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6", remoteAddr: "[::1]:12345", want: "::1"},
		{name: "no port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "headers ignored without trust", remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", want: "10.0.0.1"},
		{name: "xff first entry", remoteAddr: "10.0.0.3:1234", xff: "1.2.3.4, 10.0.0.1", trustProxy: true, want: "1.2.3.4"},
		{name: "x-real-ip fallback", remoteAddr: "10.0.0.1:1234", xri: "5.6.7.8", trustProxy: true, want: "5.6.7.8"},
		{name: "xff wins over x-real-ip", remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", xri: "5.6.7.8", trustProxy: true, want: "1.2.3.4"},
		{name: "trusted without headers", remoteAddr: "10.0.0.1:1234", trustProxy: true, want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
