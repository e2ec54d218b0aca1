package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/observation"
)

// StreamBoundary is the multipart boundary token used by every streaming
// sample session, per spec §4.8's multipart/x-mixed-replace delivery.
const StreamBoundary = "mtconnect-agent-boundary"

// MultipartContentType is the Content-Type a streaming sample response
// is served under.
const MultipartContentType = "multipart/x-mixed-replace;boundary=" + StreamBoundary

// SessionGauge receives Inc/Dec as a streaming session opens and closes,
// letting the caller track how many are live without StreamingSession
// importing a metrics package directly.
type SessionGauge interface {
	Inc()
	Dec()
}

// StreamingSession drives one long-lived GET .../sample?interval=...
// connection: it repeatedly ranges the buffer from a moving cursor,
// pushes a multipart chunk whenever new observations appear, and emits
// an empty heartbeat chunk if heartbeat elapses with nothing new, per
// spec §4.8 and property 6 (a streaming client sees a chunk at least
// every heartbeat ms even with no new observations).
type StreamingSession struct {
	buf       *buffer.Buffer
	renderer  Renderer
	from      uint64
	count     int
	interval  time.Duration
	heartbeat time.Duration
	active    SessionGauge
	registry  *SessionRegistry

	cancelOnce sync.Once
	done       chan struct{}
}

// NewStreamingSession returns a session starting at from, paging at most
// count observations per chunk, sleeping interval after each data chunk,
// and forcing a heartbeat chunk after heartbeat with nothing new to send.
func NewStreamingSession(buf *buffer.Buffer, renderer Renderer, from uint64, count int, interval, heartbeat time.Duration) *StreamingSession {
	return &StreamingSession{buf: buf, renderer: renderer, from: from, count: count, interval: interval, heartbeat: heartbeat, done: make(chan struct{})}
}

// WithActiveGauge attaches a SessionGauge incremented for the life of
// Serve and decremented when it returns.
func (s *StreamingSession) WithActiveGauge(g SessionGauge) *StreamingSession {
	s.active = g
	return s
}

// WithRegistry registers the session with reg for the life of Serve, so
// it can be cancelled alongside every other live session (e.g. during
// shutdown) rather than only by its own client disconnecting.
func (s *StreamingSession) WithRegistry(reg *SessionRegistry) *StreamingSession {
	s.registry = reg
	return s
}

// Cancel stops the session at its next cancellation check point: before
// or after a buffer wait, per spec §4.8's "a cancel flag is checked
// before and after each wait; a set flag exits the loop cleanly and
// closes the connection." Safe to call more than once or concurrently
// with Serve.
func (s *StreamingSession) Cancel() {
	s.cancelOnce.Do(func() { close(s.done) })
}

func (s *StreamingSession) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Serve runs the session until a write fails (client disconnect), Cancel
// is called, or the underlying ResponseWriter rejects the stream.
func (s *StreamingSession) Serve(w http.ResponseWriter) error {
	if s.active != nil {
		s.active.Inc()
		defer s.active.Dec()
	}
	if s.registry != nil {
		s.registry.add(s)
		defer s.registry.remove(s)
	}

	flusher, _ := w.(http.Flusher)
	from := s.from

	for {
		if s.cancelled() {
			return nil
		}

		obs, next := s.buf.Range(from, s.count)
		if len(obs) > 0 {
			if err := s.writeChunk(w, obs, next); err != nil {
				return err
			}
			from = next
			if flusher != nil {
				flusher.Flush()
			}
			if s.interval > 0 {
				time.Sleep(s.interval)
			}
			continue
		}

		if s.waitForMore() {
			continue
		}
		if s.cancelled() {
			return nil
		}

		// Heartbeat deadline reached with nothing new: send an empty chunk
		// so the client can tell the connection is still alive.
		if err := s.writeChunk(w, nil, from); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// waitForMore blocks until the buffer reports a new append, the
// session's heartbeat deadline elapses, or Cancel is called, returning
// true only in the first case (caller should re-check immediately).
func (s *StreamingSession) waitForMore() bool {
	cancel := make(chan struct{})
	woke := make(chan struct{})
	go func() {
		s.buf.Wait(cancel)
		close(woke)
	}()

	select {
	case <-woke:
		return true
	case <-s.done:
		close(cancel)
		<-woke
		return false
	case <-time.After(s.heartbeat):
		close(cancel)
		<-woke
		return false
	}
}

// SessionRegistry tracks every currently live StreamingSession so they
// can all be cancelled together, e.g. as the shutdown step spec §5
// requires ("cancel all active streaming sessions") before the HTTP
// server finishes draining.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[*StreamingSession]struct{}
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[*StreamingSession]struct{})}
}

func (r *SessionRegistry) add(s *StreamingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

func (r *SessionRegistry) remove(s *StreamingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

// CancelAll cancels every session currently registered.
func (r *SessionRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sessions {
		s.Cancel()
	}
}

func (s *StreamingSession) writeChunk(w http.ResponseWriter, obs []observation.Observation, next uint64) error {
	var body bytes.Buffer
	if err := s.renderer.RenderSamplePage(&body, MIMEXML, obs, next); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", StreamBoundary, MIMEXML, body.Len()); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
