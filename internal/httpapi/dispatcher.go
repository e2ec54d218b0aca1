package httpapi

import (
	"bytes"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/mtc-agent/internal/route"
)

// RequestMetrics receives one observation per request the Dispatcher
// finishes handling (the streaming upgrade itself, not its full
// lifetime). Dispatcher.Metrics may be left nil to skip recording.
type RequestMetrics interface {
	Observe(method, route string, status int, duration time.Duration)
}

// Request is a matched request handed to a Handler: its route
// parameters (already coerced to Go types) and the underlying
// *http.Request for anything handler-specific (headers, context, body).
type Request struct {
	Params map[string]any
	Raw    *http.Request
}

// Response is what a Handler returns: a MIME type, a status code, and
// either a fixed body or a streaming producer (used by the streaming
// session upgrade), per spec §4.7.
type Response struct {
	MIME   string
	Status int
	Body   []byte
	Stream func(w http.ResponseWriter) error
}

// Handler processes one matched request and produces a Response, or an
// error the Dispatcher renders as an error envelope.
type Handler func(*Request) (*Response, error)

// Dispatcher matches a route.Table against incoming requests, invokes
// the matched Handler, and renders both success and error responses in
// the negotiated MIME type.
type Dispatcher struct {
	Table    *route.Table
	Renderer Renderer
	Log      zerolog.Logger
	Metrics  RequestMetrics
}

// NewDispatcher returns a Dispatcher with the default renderer.
func NewDispatcher(table *route.Table, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{Table: table, Renderer: DefaultRenderer{}, Log: log}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	routeLabel := "unmatched"

	defer func() {
		if rv := recover(); rv != nil {
			hlog.FromRequest(r).Error().Interface("panic", rv).Msg("handler panicked")
			d.renderError(w, r, http.StatusInternalServerError, CodeInternalError, "internal server error", routeLabel, start)
		}
	}()

	result, err := d.Table.Match(r.Method, r.URL.Path, r.URL.Query())
	if err != nil {
		status, code := statusFor(err)
		d.renderError(w, r, status, code, err.Error(), routeLabel, start)
		return
	}
	if result == nil {
		d.renderError(w, r, http.StatusNotFound, CodeNotFound, "no route matches "+r.Method+" "+r.URL.Path, routeLabel, start)
		return
	}
	if result.Route.Pattern != nil {
		routeLabel = result.Route.Pattern.Label()
	}

	handler, ok := result.Route.Handler.(Handler)
	if !ok {
		d.renderError(w, r, http.StatusInternalServerError, CodeInternalError, "route has no httpapi.Handler", routeLabel, start)
		return
	}

	resp, err := handler(&Request{Params: result.Params, Raw: r})
	if err != nil {
		status, code := statusFor(err)
		d.renderError(w, r, status, code, err.Error(), routeLabel, start)
		return
	}

	mime := resp.MIME
	if mime == "" {
		mime = NegotiateMIME(r.Header.Get("Accept"))
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(resp.Status)
	d.observe(r.Method, routeLabel, resp.Status, start)

	if resp.Stream != nil {
		if err := resp.Stream(w); err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("streaming session ended")
		}
		return
	}
	_, _ = w.Write(resp.Body)
}

func (d *Dispatcher) renderError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, msg string, routeLabel string, start time.Time) {
	mime := NegotiateMIME(r.Header.Get("Accept"))
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(status)
	d.observe(r.Method, routeLabel, status, start)

	var buf bytes.Buffer
	env := ErrorEnvelope{ErrorCode: code, Value: msg, Path: r.URL.Path}
	if err := d.Renderer.RenderError(&buf, mime, env); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to render error envelope")
		return
	}
	_, _ = w.Write(buf.Bytes())
}

func (d *Dispatcher) observe(method, routeLabel string, status int, start time.Time) {
	if d.Metrics != nil {
		d.Metrics.Observe(method, routeLabel, status, time.Since(start))
	}
}
