package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/mtc-agent/internal/adapter"
	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/model"
	"github.com/snarg/mtc-agent/internal/shdr"
)

func newTestPipeline(t *testing.T) (*Pipeline, *model.Model, *buffer.Buffer) {
	t.Helper()
	m := model.NewModel()
	dev := model.NewDevice("d1", "Lathe1", "Device")
	dev.AddDataItem(&model.DataItem{ID: "avail", Type: "AVAILABILITY", Category: model.CategoryEvent})
	dev.AddDataItem(&model.DataItem{ID: "xpos", Type: "POSITION", Category: model.CategorySample})
	dev.AddDataItem(&model.DataItem{ID: "mode", Type: "CONTROLLER_MODE", Category: model.CategoryEvent,
		Constraint: &model.Constraint{Kind: model.ConstraintEnum, Enum: []string{"AUTOMATIC", "MANUAL"}}})
	dev.AddDataItem(&model.DataItem{ID: "temp", Type: "TEMPERATURE", Category: model.CategorySample,
		Constraint: &model.Constraint{Kind: model.ConstraintFilter, MinimumDelta: 1.0}})
	dev.AddDataItem(&model.DataItem{ID: "v1", Type: "VARIABLE", Category: model.CategoryEvent, Representation: model.RepresentationDataSet})
	if err := m.AddDevice(dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	buf := buffer.New(64, 16)
	p := New(Options{Model: m, Buffer: buf, Log: zerolog.Nop()})
	return p, m, buf
}

func dataEvent(line string) shdr.Event {
	return shdr.Event{Kind: shdr.EventData, Data: shdr.ParseDataLine(line)}
}

func TestProcessUnknownDataItemDropped(t *testing.T) {
	p, _, buf := newTestPipeline(t)
	p.Process("_h_1", dataEvent("2021-01-01T00:00:00Z|nope|1"), adapter.Options{})
	if buf.NextSequence() != 1 {
		t.Fatalf("expected no observation appended, next_sequence = %d", buf.NextSequence())
	}
}

func TestProcessAppendsKnownDataItem(t *testing.T) {
	p, _, buf := newTestPipeline(t)
	p.Process("_h_1", dataEvent("2021-01-01T00:00:00Z|avail|AVAILABLE"), adapter.Options{})
	if buf.NextSequence() != 2 {
		t.Fatalf("next_sequence = %d, want 2", buf.NextSequence())
	}
	o, ok := buf.Get(1)
	if !ok || o.Value != "AVAILABLE" {
		t.Fatalf("o = %+v, ok = %v", o, ok)
	}
}

func TestProcessEnumConstraintRejectsInvalidValue(t *testing.T) {
	p, _, buf := newTestPipeline(t)
	p.Process("_h_1", dataEvent("2021-01-01T00:00:00Z|mode|BOGUS"), adapter.Options{})
	if buf.NextSequence() != 1 {
		t.Fatalf("expected drop, next_sequence = %d", buf.NextSequence())
	}
	p.Process("_h_1", dataEvent("2021-01-01T00:00:00Z|mode|AUTOMATIC"), adapter.Options{})
	if buf.NextSequence() != 2 {
		t.Fatalf("expected accept, next_sequence = %d", buf.NextSequence())
	}
}

func TestProcessFilterConstraintDropsSmallDelta(t *testing.T) {
	p, _, buf := newTestPipeline(t)
	p.Process("_h_1", dataEvent("2021-01-01T00:00:00Z|temp|100.0"), adapter.Options{})
	p.Process("_h_1", dataEvent("2021-01-01T00:00:01Z|temp|100.3"), adapter.Options{})
	if buf.NextSequence() != 2 {
		t.Fatalf("expected second (small delta) observation filtered, next_sequence = %d", buf.NextSequence())
	}
	p.Process("_h_1", dataEvent("2021-01-01T00:00:02Z|temp|105.0"), adapter.Options{})
	if buf.NextSequence() != 3 {
		t.Fatalf("expected third (large delta) observation accepted, next_sequence = %d", buf.NextSequence())
	}
}

func TestProcessDataSetMergeAndReset(t *testing.T) {
	p, _, buf := newTestPipeline(t)

	p.Process("_h_1", dataEvent("2021-01-01T00:00:00Z|v1|a:1 b:2 c:3 d:4"), adapter.Options{})
	o, _ := buf.Get(1)
	if o.DataSet.Size() != 4 {
		t.Fatalf("size after initial set = %d, want 4", o.DataSet.Size())
	}

	p.Process("_h_1", dataEvent("2021-01-01T00:00:01Z|v1|c:5"), adapter.Options{})
	o, _ = buf.Get(2)
	if o.DataSet.Size() != 4 {
		t.Fatalf("size after partial merge = %d, want 4", o.DataSet.Size())
	}
	if v, _ := o.DataSet.Get("c"); v != "5" {
		t.Fatalf("c = %q, want 5", v)
	}

	p.Process("_h_1", dataEvent("2021-01-01T00:00:02Z|v1|RESET e:6"), adapter.Options{})
	o, _ = buf.Get(3)
	if o.DataSet.Size() != 1 {
		t.Fatalf("size after reset = %d, want 1", o.DataSet.Size())
	}
	if !o.Reset {
		t.Fatal("expected Reset = true")
	}
	if v, _ := o.DataSet.Get("e"); v != "6" {
		t.Fatalf("e = %q, want 6", v)
	}
}

func TestProcessNoWireTimeUsesReceiveTime(t *testing.T) {
	p, _, buf := newTestPipeline(t)
	before := time.Now().UTC()
	p.Process("_h_1", dataEvent("avail|AVAILABLE"), adapter.Options{})
	o, _ := buf.Get(1)
	if o.Timestamp.Before(before) {
		t.Fatalf("timestamp %v is before test start %v", o.Timestamp, before)
	}
}

func TestProcessRelativeTimeAppliesConsistentCorrection(t *testing.T) {
	p, _, buf := newTestPipeline(t)
	opts := adapter.Options{RelativeTime: true}

	p.Process("_h_1", dataEvent("2021-01-01T00:00:00Z|xpos|1.0"), opts)
	first, _ := buf.Get(1)

	p.Process("_h_1", dataEvent("2021-01-01T00:00:05Z|xpos|2.0"), opts)
	second, _ := buf.Get(2)

	if second.Timestamp.Sub(first.Timestamp) != 5*time.Second {
		t.Fatalf("delta = %v, want 5s", second.Timestamp.Sub(first.Timestamp))
	}
}
