package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/model"
	"github.com/snarg/mtc-agent/internal/observation"
	"github.com/snarg/mtc-agent/internal/route"
)

func zeroLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fakeWriter adapts an io.PipeWriter to http.ResponseWriter so
// StreamingSession.Serve (which only needs Write, and optionally
// Flusher) can be exercised directly against a pipe in tests.
type fakeWriter struct {
	w *io.PipeWriter
}

func (f fakeWriter) Header() http.Header         { return http.Header{} }
func (f fakeWriter) Write(b []byte) (int, error) { return f.w.Write(b) }
func (f fakeWriter) WriteHeader(int)             {}

func newTestModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.NewModel()
	if _, err := m.AddAgentDevice(); err != nil {
		t.Fatalf("AddAgentDevice: %v", err)
	}
	dev := model.NewDevice("dev1", "ABC123", "Device")
	dev.AddDataItem(&model.DataItem{ID: "xpos", Type: "POSITION", Category: model.CategorySample})
	if err := m.AddDevice(dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	return m
}

func buildTable(t *testing.T) (*route.Table, *buffer.Buffer) {
	t.Helper()
	m := newTestModel(t)
	buf := buffer.New(4, 2)

	tbl := &route.Table{}
	probePattern, _ := route.Parse("GET", "/probe")
	devProbePattern, _ := route.Parse("GET", "/{device}/probe")
	currentPattern, _ := route.Parse("GET", "/current?at={unsigned_integer}&path={string}")
	samplePattern, _ := route.Parse("GET", "/sample?from={unsigned_integer}&count={integer:100}&interval={double}&heartbeat={double:10000}")

	tbl.Add(route.Route{Pattern: probePattern, Handler: NewProbeHandler(m, DefaultRenderer{})})
	tbl.Add(route.Route{Pattern: devProbePattern, Handler: NewProbeHandler(m, DefaultRenderer{})})
	tbl.Add(route.Route{Pattern: currentPattern, Handler: NewCurrentHandler(buf, DefaultRenderer{})})
	tbl.Add(route.Route{Pattern: samplePattern, Handler: NewSampleHandler(buf, DefaultRenderer{}, SampleOptions{})})

	return tbl, buf
}

func TestDispatcherServesProbe(t *testing.T) {
	tbl, _ := buildTable(t)
	d := NewDispatcher(tbl, zeroLogger())

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestDispatcherUnknownRouteIs404(t *testing.T) {
	tbl, _ := buildTable(t)
	d := NewDispatcher(tbl, zeroLogger())

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDispatcherParameterErrorIs400(t *testing.T) {
	tbl, _ := buildTable(t)
	d := NewDispatcher(tbl, zeroLogger())

	req := httptest.NewRequest(http.MethodGet, "/current?at=notanumber", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

// S6: requesting a sequence before first_sequence surfaces OUT_OF_RANGE.
func TestDispatcherSampleFromOutOfRangeIs404(t *testing.T) {
	tbl, buf := buildTable(t)
	d := NewDispatcher(tbl, zeroLogger())

	for i := 0; i < 6; i++ {
		buf.Append(observation.Observation{DataItemID: "xpos", Value: float64(i), Timestamp: time.Now()})
	}

	req := httptest.NewRequest(http.MethodGet, "/sample?from=1", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestDispatcherSamplePagesObservations(t *testing.T) {
	tbl, buf := buildTable(t)
	d := NewDispatcher(tbl, zeroLogger())

	buf.Append(observation.Observation{DataItemID: "xpos", Value: 1.0, Timestamp: time.Now()})
	buf.Append(observation.Observation{DataItemID: "xpos", Value: 2.0, Timestamp: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/sample?count=10", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

// Property 6: a streaming session emits a chunk at least every heartbeat
// interval even with no new observations.
func TestStreamingSessionEmitsHeartbeatWithNoData(t *testing.T) {
	buf := buffer.New(16, 4)
	session := NewStreamingSession(buf, DefaultRenderer{}, buf.FirstSequence(), 10, 0, 20*time.Millisecond)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- session.Serve(fakeWriter{pw}) }()

	buf2 := make([]byte, 64)
	n, err := pr.Read(buf2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a heartbeat chunk")
	}
	pr.Close()
	pw.Close()
	<-done
}

func TestStreamingSessionDeliversNewObservations(t *testing.T) {
	buf := buffer.New(16, 4)
	session := NewStreamingSession(buf, DefaultRenderer{}, buf.FirstSequence(), 10, 0, 5*time.Second)

	pr, pw := io.Pipe()
	go func() { session.Serve(fakeWriter{pw}) }()

	time.AfterFunc(10*time.Millisecond, func() {
		buf.Append(observation.Observation{DataItemID: "xpos", Value: 1.0, Timestamp: time.Now()})
	})

	out := make([]byte, 256)
	n, err := pr.Read(out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a data chunk")
	}
	pr.Close()
	pw.Close()
}

// Spec §4.8: a cancel flag is checked before and after each wait, so an
// idle (heartbeat-only) session exits cleanly instead of blocking until
// a write fails.
func TestStreamingSessionCancelStopsIdleSession(t *testing.T) {
	buf := buffer.New(16, 4)
	session := NewStreamingSession(buf, DefaultRenderer{}, buf.FirstSequence(), 10, 0, 5*time.Second)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- session.Serve(fakeWriter{pw}) }()

	time.AfterFunc(10*time.Millisecond, session.Cancel)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Cancel")
	}
	pr.Close()
	pw.Close()
}

func TestSessionRegistryCancelAllStopsRegisteredSessions(t *testing.T) {
	buf := buffer.New(16, 4)
	reg := NewSessionRegistry()
	session := NewStreamingSession(buf, DefaultRenderer{}, buf.FirstSequence(), 10, 0, 5*time.Second).WithRegistry(reg)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- session.Serve(fakeWriter{pw}) }()

	time.Sleep(10 * time.Millisecond)
	reg.CancelAll()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after CancelAll")
	}
	pr.Close()
	pw.Close()
}
