// Package metrics provides the lightweight counters each client session
// reports on: bytes transferred, flush counts, and queue high-watermark.
package metrics

import "sync/atomic"

// Gauge is a monotonically-adjustable counter, safe for concurrent use.
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Adjust(delta int64) { g.v.Add(delta) }
func (g *Gauge) Value() int64       { return g.v.Load() }

// Session holds the per-client counters for one connection: bytes
// sent/received, and the outgoing queue high watermark (here, the
// largest rectangle count ever sent in one flush, since this
// implementation writes synchronously rather than queuing).
type Session struct {
	BytesSent       Gauge
	BytesReceived   Gauge
	FlushCount      Gauge
	HighWatermark   Gauge
}

// NewSession returns a zeroed metrics.Session.
func NewSession() *Session { return &Session{} }

// RecordFlush updates FlushCount and HighWatermark after a successful
// FramebufferUpdate write carrying rectCount rectangles.
func (s *Session) RecordFlush(rectCount int) {
	s.FlushCount.Adjust(1)
	if int64(rectCount) > s.HighWatermark.Value() {
		s.HighWatermark.Adjust(int64(rectCount) - s.HighWatermark.Value())
	}
}
