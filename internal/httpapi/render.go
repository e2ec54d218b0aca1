package httpapi

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"

	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/model"
	"github.com/snarg/mtc-agent/internal/observation"
)

// MIMEXML and MIMEJSON are the two content types the dispatcher
// negotiates per spec §6: XML by default, JSON when the client sends
// "Accept: application/json".
const (
	MIMEXML  = "application/xml"
	MIMEJSON = "application/json"
)

// Renderer turns the agent's internal state into wire documents. It is
// injected into the Dispatcher so that document schema concerns (the
// full MTConnect probe/streams/error XSDs) stay a pluggable concern
// external to the dispatch/routing core, per spec §1's scope boundary;
// DefaultRenderer below is a minimal, schema-light implementation
// sufficient for the routing contract's response shape.
type Renderer interface {
	RenderProbe(w io.Writer, mime string, devices []*model.Device) error
	RenderCheckpoint(w io.Writer, mime string, cp *buffer.Checkpoint, pathSelector string) error
	RenderSamplePage(w io.Writer, mime string, obs []observation.Observation, nextFrom uint64) error
	RenderError(w io.Writer, mime string, env ErrorEnvelope) error
}

// DefaultRenderer emits simple structured documents (JSON via
// encoding/json for the JSON MIME type; XML via encoding/xml's default
// struct tagging otherwise) rather than full
// MTConnect-schema XML, which is an external document-assembly concern.
type DefaultRenderer struct{}

type probeDoc struct {
	XMLName xml.Name        `xml:"Devices" json:"-"`
	Devices []*model.Device `xml:"Device" json:"devices"`
}

func (DefaultRenderer) RenderProbe(w io.Writer, mime string, devices []*model.Device) error {
	return encode(w, mime, probeDoc{Devices: devices})
}

type dataItemValue struct {
	DataItemID string `xml:"dataItemId,attr" json:"dataItemId"`
	Sequence   uint64 `xml:"sequence,attr" json:"sequence"`
	Value      any    `xml:"value" json:"value"`
}

type checkpointDoc struct {
	XMLName xml.Name        `xml:"Streams" json:"-"`
	Items   []dataItemValue `xml:"DataItem" json:"items"`
}

func (DefaultRenderer) RenderCheckpoint(w io.Writer, mime string, cp *buffer.Checkpoint, pathSelector string) error {
	doc := checkpointDoc{}
	for id, o := range cp.Items() {
		if pathSelector != "" && id != pathSelector {
			continue
		}
		val := o.Value
		if o.IsDataSet() {
			val = o.DataSet.Keys()
		}
		doc.Items = append(doc.Items, dataItemValue{DataItemID: id, Sequence: o.Sequence, Value: val})
	}
	return encode(w, mime, doc)
}

type sampleDoc struct {
	XMLName      xml.Name        `xml:"Streams" json:"-"`
	NextSequence uint64          `xml:"nextSequence,attr" json:"nextSequence"`
	Items        []dataItemValue `xml:"DataItem" json:"items"`
}

func (DefaultRenderer) RenderSamplePage(w io.Writer, mime string, obs []observation.Observation, nextFrom uint64) error {
	doc := sampleDoc{NextSequence: nextFrom}
	for _, o := range obs {
		val := o.Value
		if o.IsDataSet() {
			val = o.DataSet.Keys()
		}
		doc.Items = append(doc.Items, dataItemValue{DataItemID: o.DataItemID, Sequence: o.Sequence, Value: val})
	}
	return encode(w, mime, doc)
}

func (DefaultRenderer) RenderError(w io.Writer, mime string, env ErrorEnvelope) error {
	return encode(w, mime, env)
}

func encode(w io.Writer, mime string, v any) error {
	if mime == MIMEJSON {
		return json.NewEncoder(w).Encode(v)
	}
	return xml.NewEncoder(w).Encode(v)
}

// NegotiateMIME picks JSON only when explicitly requested.
func NegotiateMIME(accept string) string {
	if strings.Contains(accept, MIMEJSON) {
		return MIMEJSON
	}
	return MIMEXML
}
