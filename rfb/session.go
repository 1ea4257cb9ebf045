// Package rfb implements the RFB protocol state machine and per-client
// session loop: handshake, authentication, initialization, and the
// steady-state reader/writer pair.
package rfb

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"github.com/vncbridge/rfbserver/encodings"
	"github.com/vncbridge/rfbserver/encoder"
	"github.com/vncbridge/rfbserver/framebuffer"
	"github.com/vncbridge/rfbserver/internal/metrics"
	"github.com/vncbridge/rfbserver/wire"
)

// DefaultMinUpdateInterval is the default write-loop pacing: a ~33Hz
// update ceiling.
const DefaultMinUpdateInterval = 30 * time.Millisecond

// Config bundles everything a Session needs beyond the raw connection.
// The supervisor (server package) builds one of these per accepted or
// dialed connection; nothing here references the supervisor itself.
type Config struct {
	ID                uint64
	Password          string
	Framebuffer        *framebuffer.Framebuffer
	DesktopName       string
	Events            chan<- ServerEvent
	MinUpdateInterval time.Duration
	Metrics           *metrics.Session

	// OnSharedFlag is invoked once ClientInit has read the client's
	// shared-flag byte. When the client requested exclusive access
	// (shared==false), the supervisor uses this to close other live
	// sessions without Session holding a direct reference to the
	// registry without Session holding a direct back-reference.
	OnSharedFlag func(shared bool)
}

// Session is one client's connection: handshake state plus the steady
// state reader/writer pair.
type Session struct {
	id       uint64
	conn     net.Conn
	br       *bufio.Reader
	password string
	fb       *framebuffer.Framebuffer
	events   chan<- ServerEvent
	metrics  *metrics.Session
	onShared func(bool)

	desktopName string
	minInterval time.Duration
	limiter     *rate.Limiter

	mu                sync.Mutex
	pixelFormat       wire.PixelFormat
	negotiated        []encodings.Encoding
	supportsCopyRect  bool
	supportsDesktopSize bool
	supportsLastRect  bool
	supportsCursor    bool
	quality           int
	compression       int
	tightDisabled     bool
	requestsUpdate    bool
	requestedRegion   wire.Rect
	pending           framebuffer.DirtySet
	lastFlushAt       time.Time
	seenGeneration    uint64

	writeMu  sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	wake      chan struct{}
}

// NewSession builds a Session around an already-dialed or accepted
// connection. Serve must be called to run it.
func NewSession(conn net.Conn, cfg Config) *Session {
	interval := cfg.MinUpdateInterval
	if interval <= 0 {
		interval = DefaultMinUpdateInterval
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewSession()
	}
	return &Session{
		id:          cfg.ID,
		conn:        conn,
		br:          bufio.NewReaderSize(conn, 4096),
		password:    cfg.Password,
		fb:          cfg.Framebuffer,
		events:      cfg.Events,
		metrics:     m,
		onShared:    cfg.OnSharedFlag,
		desktopName: cfg.DesktopName,
		minInterval: interval,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		pixelFormat: wire.BGRX32,
		negotiated:  []encodings.Encoding{encodings.Raw},
		quality:     6,
		compression: 6,
		closed:      make(chan struct{}),
		wake:        make(chan struct{}, 1),
	}
}

// signalWake nudges the writer loop to re-check flush conditions without
// waiting for the next framebuffer change, e.g. right after a
// FramebufferUpdateRequest arrives.
func (s *Session) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ID returns the session's unique monotonic identifier.
func (s *Session) ID() uint64 { return s.id }

// Serve runs the full session lifecycle: negotiate, then the reader and
// writer loops, until the peer closes, ctx is cancelled, or a fatal
// protocol error occurs. Once negotiation succeeds it emits
// ClientConnected before serving and ClientDisconnected before returning;
// a failed negotiation emits neither.
func (s *Session) Serve(ctx context.Context) error {
	if err := s.negotiate(ctx); err != nil {
		s.closeConn()
		return err
	}

	s.emit(ServerEvent{Kind: EventClientConnected, ID: s.id})
	defer s.emit(ServerEvent{Kind: EventClientDisconnected, ID: s.id})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	errCh := make(chan error, 2)

	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.readLoop(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.writeLoop(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Wait()
	close(errCh)
	s.closeConn()

	var first error
	for err := range errCh {
		if first == nil {
			first = err
		}
	}
	return first
}

// Close stops the session; Serve's loops observe ctx cancellation and
// the closed connection and return.
func (s *Session) Close() {
	s.closeConn()
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// emit sends ev to the supervisor's event channel without blocking
// indefinitely on a stalled consumer; it respects the session's closed
// signal so a full channel never wedges shutdown.
func (s *Session) emit(ev ServerEvent) {
	if s.events == nil {
		return
	}
	// Try the send alone first: once closed is closed, a select over both
	// would pick at random and could drop the event even with room left.
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Session) encoderFor(enc encodings.Encoding) encoder.Encoder {
	switch enc {
	case encodings.Tight:
		return encoder.TightEncoder{}
	default:
		return encoder.RawEncoder{}
	}
}

// recordBytesReceived and recordBytesSent update the session's metrics
// handle, if one was configured. Both are no-ops when metrics is nil
// (NewSession always fills it in, but tests may swap it out).
func (s *Session) recordBytesReceived(n int) {
	if s.metrics != nil {
		s.metrics.BytesReceived.Adjust(int64(n))
	}
}

func (s *Session) recordBytesSent(n int) {
	if s.metrics != nil {
		s.metrics.BytesSent.Adjust(int64(n))
	}
}

func (s *Session) logf(format string, args ...any) {
	glog.V(1).Infof("rfb: session %d: "+format, append([]any{s.id}, args...)...)
}
