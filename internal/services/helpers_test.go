package services

import (
	"context"
	"errors"
	"sync"
)

var errTransportRefused = errors.New("transport refused")

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[key]++
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) CartCommand(name string, _ bool)      { m.inc("cart_command:" + name) }
func (m *recordingMetrics) OrderPlaced(bool)                     { m.inc("order_placed") }
func (m *recordingMetrics) OrderRejected(reason string)          { m.inc("order_rejected:" + reason) }
func (m *recordingMetrics) OrderTransition(status string)        { m.inc("order_transition:" + status) }
func (m *recordingMetrics) ReturnTransition(status string)       { m.inc("return_transition:" + status) }
func (m *recordingMetrics) SequenceFallback(string)              { m.inc("sequence_fallback") }
func (m *recordingMetrics) OutboxProcessed(kind, outcome string) { m.inc("outbox:" + kind + ":" + outcome) }
func (m *recordingMetrics) EventDropped()                        { m.inc("event_dropped") }

func (m *recordingMetrics) NotificationSent(kind string, success bool) {
	if success {
		m.inc("notification_sent:" + kind)
		return
	}
	m.inc("notification_failed:" + kind)
}

type recordedLog struct {
	Event  string
	Fields map[string]any
}

type logRecorder struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (r *logRecorder) Logger() Logger {
	return func(_ context.Context, event string, fields map[string]any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries = append(r.entries, recordedLog{Event: event, Fields: fields})
	}
}

func (r *logRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Event)
	}
	return out
}

// stubTransport records sends and fails for configured recipients.
type stubTransport struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]bool
	sendFn func(ctx context.Context, to, subject, body string) error
}

func (s *stubTransport) Send(ctx context.Context, to, subject, body string) error {
	if s.sendFn != nil {
		if err := s.sendFn(ctx, to, subject, body); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTo[to] {
		return errTransportRefused
	}
	s.sent = append(s.sent, to)
	return nil
}

func (s *stubTransport) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
