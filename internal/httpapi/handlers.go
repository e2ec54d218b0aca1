package httpapi

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/model"
)

// NewProbeHandler serves GET /probe and GET /{device}/probe: the full
// device tree, or a single device's tree if a device parameter matched.
func NewProbeHandler(m *model.Model, renderer Renderer) Handler {
	return func(req *Request) (*Response, error) {
		var devices []*model.Device
		if nameVal, ok := req.Params["device"]; ok {
			d, err := m.GetDeviceByName(nameVal.(string))
			if err != nil {
				return nil, err
			}
			devices = []*model.Device{d}
		} else {
			devices = m.Devices()
		}

		mime := NegotiateMIME(req.Raw.Header.Get("Accept"))
		var out bytes.Buffer
		if err := renderer.RenderProbe(&out, mime, devices); err != nil {
			return nil, err
		}
		return &Response{MIME: mime, Status: http.StatusOK, Body: out.Bytes()}, nil
	}
}

// NewCurrentHandler serves GET /current and
// GET /{device}/current?at={unsigned_integer}&path={string}.
func NewCurrentHandler(buf *buffer.Buffer, renderer Renderer) Handler {
	return func(req *Request) (*Response, error) {
		var cp *buffer.Checkpoint
		if atVal, ok := req.Params["at"]; ok {
			c, err := buf.CheckpointAt(atVal.(uint64))
			if err != nil {
				return nil, err
			}
			cp = c
		} else {
			cp = buf.Latest()
		}

		pathSelector, _ := req.Params["path"].(string)
		mime := NegotiateMIME(req.Raw.Header.Get("Accept"))
		var out bytes.Buffer
		if err := renderer.RenderCheckpoint(&out, mime, cp, pathSelector); err != nil {
			return nil, err
		}
		return &Response{MIME: mime, Status: http.StatusOK, Body: out.Bytes()}, nil
	}
}

// SampleOptions configures NewSampleHandler's defaults.
type SampleOptions struct {
	DefaultCount     int
	DefaultHeartbeat time.Duration
	ActiveStreams    SessionGauge
	Sessions         *SessionRegistry
}

// NewSampleHandler serves GET /sample and
// GET /{device}/sample?from=&interval=&count=&heartbeat=&path=. If
// interval is present it upgrades to a streaming session (spec §4.8);
// otherwise it returns one page of observations.
func NewSampleHandler(buf *buffer.Buffer, renderer Renderer, opts SampleOptions) Handler {
	if opts.DefaultCount <= 0 {
		opts.DefaultCount = 100
	}
	if opts.DefaultHeartbeat <= 0 {
		opts.DefaultHeartbeat = 10 * time.Second
	}

	return func(req *Request) (*Response, error) {
		from := buf.FirstSequence()
		if fromVal, ok := req.Params["from"]; ok {
			explicit := fromVal.(uint64)
			if explicit < buf.FirstSequence() {
				return nil, buffer.ErrOutOfRange
			}
			from = explicit
		}

		count := opts.DefaultCount
		if countVal, ok := req.Params["count"]; ok {
			count = int(countVal.(int64))
		}

		if intervalVal, ok := req.Params["interval"]; ok {
			interval := durationFromMillis(intervalVal.(float64))
			heartbeat := opts.DefaultHeartbeat
			if hbVal, ok := req.Params["heartbeat"]; ok {
				heartbeat = durationFromMillis(hbVal.(float64))
			}
			session := NewStreamingSession(buf, renderer, from, count, interval, heartbeat)
			if opts.ActiveStreams != nil {
				session = session.WithActiveGauge(opts.ActiveStreams)
			}
			if opts.Sessions != nil {
				session = session.WithRegistry(opts.Sessions)
			}
			return &Response{MIME: MultipartContentType, Status: http.StatusOK, Stream: session.Serve}, nil
		}

		obs, next := buf.Range(from, count)
		mime := NegotiateMIME(req.Raw.Header.Get("Accept"))
		var out bytes.Buffer
		if err := renderer.RenderSamplePage(&out, mime, obs, next); err != nil {
			return nil, err
		}
		return &Response{MIME: mime, Status: http.StatusOK, Body: out.Bytes()}, nil
	}
}

func durationFromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// AssetStore is the minimal read surface asset routes need. The spec
// scopes asset storage itself out (§1 Non-goals); this interface exists
// so the routing contract (GET /asset/{assets}, GET /asset?device=...)
// has somewhere to delegate once an asset store is wired in.
type AssetStore interface {
	GetAssets(ids []string) ([]Asset, error)
	ListAssets(device, assetType string, count int) ([]Asset, error)
}

// Asset is an opaque asset document identified by its id and type.
type Asset struct {
	AssetID string `xml:"assetId,attr" json:"assetId"`
	Type    string `xml:"type,attr" json:"type"`
	Device  string `xml:"deviceUuid,attr" json:"deviceUuid"`
	Body    string `xml:",innerxml" json:"body"`
}

type assetDoc struct {
	Assets []Asset `xml:"Asset" json:"assets"`
}

// NewAssetByIDHandler serves GET /asset/{assets}, a comma-separated list
// of asset ids.
func NewAssetByIDHandler(store AssetStore) Handler {
	return func(req *Request) (*Response, error) {
		raw, _ := req.Params["assets"].(string)
		ids := strings.Split(raw, ",")
		assets, err := store.GetAssets(ids)
		if err != nil {
			return nil, err
		}
		mime := NegotiateMIME(req.Raw.Header.Get("Accept"))
		var out bytes.Buffer
		if err := encode(&out, mime, assetDoc{Assets: assets}); err != nil {
			return nil, err
		}
		return &Response{MIME: mime, Status: http.StatusOK, Body: out.Bytes()}, nil
	}
}

// NewAssetQueryHandler serves GET /asset?device=&type=&count=.
func NewAssetQueryHandler(store AssetStore) Handler {
	return func(req *Request) (*Response, error) {
		device, _ := req.Params["device"].(string)
		assetType, _ := req.Params["type"].(string)
		count := 100
		if v, ok := req.Params["count"]; ok {
			count = int(v.(int64))
		}
		assets, err := store.ListAssets(device, assetType, count)
		if err != nil {
			return nil, err
		}
		mime := NegotiateMIME(req.Raw.Header.Get("Accept"))
		var out bytes.Buffer
		if err := encode(&out, mime, assetDoc{Assets: assets}); err != nil {
			return nil, err
		}
		return &Response{MIME: mime, Status: http.StatusOK, Body: out.Bytes()}, nil
	}
}

// AdapterCommand is the contract spec §4.7 gives PUT/DELETE on a device:
// "call handler with captured parameters". The actual command semantics
// (forwarding to the adapter, applying config changes) live outside the
// dispatcher's scope; this just wires the parameters through.
type AdapterCommand func(deviceName string, req *Request) error

// NewPutHandler serves PUT /{device}.
func NewPutHandler(cmd AdapterCommand) Handler {
	return func(req *Request) (*Response, error) {
		device, _ := req.Params["device"].(string)
		if err := cmd(device, req); err != nil {
			return nil, err
		}
		return &Response{MIME: MIMEJSON, Status: http.StatusAccepted}, nil
	}
}

// NewDeleteHandler serves DELETE /{device}.
func NewDeleteHandler(cmd AdapterCommand) Handler {
	return func(req *Request) (*Response, error) {
		device, _ := req.Params["device"].(string)
		if err := cmd(device, req); err != nil {
			return nil, err
		}
		return &Response{MIME: MIMEJSON, Status: http.StatusAccepted}, nil
	}
}
