// Package pipeline turns decoded SHDR events into buffered observations:
// resolve the data item, normalize the timestamp, validate constraints,
// and append to the buffer, which is the only place a sequence number is
// assigned.
package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/mtc-agent/internal/adapter"
	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/model"
	"github.com/snarg/mtc-agent/internal/observation"
	"github.com/snarg/mtc-agent/internal/shdr"
)

// ErrConstraintViolation is returned when a value falls outside its data
// item's declared enum or range constraint.
var ErrConstraintViolation = errors.New("constraint violation")

// ErrFiltered is returned when a filtered data item's new value has not
// moved far enough from the previous one to be worth recording.
var ErrFiltered = errors.New("filtered: delta below minimum")

// Metrics is the subset of internal/metrics the pipeline drives. Defined
// here so this package does not need to import metrics' Prometheus
// plumbing directly; cmd/mtcagent wires the real implementation in.
type Metrics interface {
	ObservationAppended(dataItemType string)
	ObservationDropped(reason string)
}

type noopMetrics struct{}

func (noopMetrics) ObservationAppended(string) {}
func (noopMetrics) ObservationDropped(string)  {}

// Options configures a Pipeline.
type Options struct {
	Model   *model.Model
	Buffer  *buffer.Buffer
	Log     zerolog.Logger
	Metrics Metrics
}

// Pipeline is the linear transformer chain described in spec §4.4. It
// holds one small piece of state beyond the shared model/buffer: the
// per-adapter relative-time correction. The current DATA_SET contents
// of a data item are not kept here; they are read from the buffer's
// latest checkpoint and merged before the new observation is appended.
type Pipeline struct {
	model   *model.Model
	buf     *buffer.Buffer
	log     zerolog.Logger
	metrics Metrics

	mu           sync.Mutex
	relativeBase map[string]time.Duration
}

// New constructs a Pipeline from Options.
func New(opts Options) *Pipeline {
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Pipeline{
		model:        opts.Model,
		buf:          opts.Buffer,
		log:          opts.Log.With().Str("component", "pipeline").Logger(),
		metrics:      m,
		relativeBase: make(map[string]time.Duration),
	}
}

// Process handles one decoded SHDR event from a single adapter. Commands
// only update the adapter's own option snapshot (handled by the adapter
// package) and are not appended here; Process ignores every event that
// is not EventData, commands included.
// Every key/value pair in the data line is processed independently, each
// producing its own observation and sequence number.
func (p *Pipeline) Process(identity string, ev shdr.Event, opts adapter.Options) {
	if ev.Kind != shdr.EventData {
		return
	}
	for _, kv := range ev.Data.Pairs {
		if _, err := p.processPair(identity, kv, ev.Data.Timestamp, ev.Data.HasWireTime, opts); err != nil {
			p.log.Warn().Err(err).Str("adapter", identity).Str("data_item", kv.Key).Msg("dropped observation")
		}
	}
}

func (p *Pipeline) processPair(identity string, kv shdr.KeyValue, wireTime time.Time, hasWireTime bool, opts adapter.Options) (observation.Observation, error) {
	item, err := p.model.GetDataItem(kv.Key)
	if err != nil {
		p.metrics.ObservationDropped("unknown_data_item")
		return observation.Observation{}, err
	}

	ts := p.resolveTimestamp(identity, wireTime, hasWireTime, opts.RelativeTime)

	var obs observation.Observation
	if item.IsDataSet() {
		obs, err = p.buildDataSetObservation(item, kv.Value, ts)
	} else {
		obs, err = p.buildValueObservation(item, kv.Value, ts, opts)
	}
	if err != nil {
		return observation.Observation{}, err
	}

	seq := p.buf.Append(obs)
	obs.Sequence = seq
	p.metrics.ObservationAppended(item.Type)
	return obs, nil
}

func (p *Pipeline) buildDataSetObservation(item *model.DataItem, raw string, ts time.Time) (observation.Observation, error) {
	pairs, reset, malformed := shdr.ParseDataSetValue(raw)
	if malformed > 0 {
		p.log.Warn().Str("data_item", item.ID).Int("dropped_pairs", malformed).Msg("malformed data-set pair dropped")
	}

	prev, _ := p.buf.LatestValue(item.ID)
	var base *observation.DataSet
	if prev.DataSet != nil {
		base = prev.DataSet.Clone()
	} else {
		base = observation.NewDataSet()
	}
	base.Merge(pairs, reset)

	return observation.Observation{
		DataItemID: item.ID,
		Timestamp:  ts,
		Kind:       observation.KindDataSet,
		DataSet:    base,
		Reset:      reset,
	}, nil
}

func (p *Pipeline) buildValueObservation(item *model.DataItem, raw string, ts time.Time, opts adapter.Options) (observation.Observation, error) {
	value, err := convert(item, raw, opts.ConversionRequired)
	if err != nil {
		p.metrics.ObservationDropped("parse_error")
		return observation.Observation{}, err
	}

	if err := p.validateConstraint(item, value); err != nil {
		if errors.Is(err, ErrFiltered) {
			p.metrics.ObservationDropped("filtered")
		} else {
			p.metrics.ObservationDropped("constraint_violation")
		}
		return observation.Observation{}, err
	}

	return observation.Observation{
		DataItemID: item.ID,
		Timestamp:  ts,
		Kind:       observation.KindValue,
		Value:      value,
	}, nil
}

// resolveTimestamp implements spec §4.4's timestamp normalization: a
// missing wire timestamp uses receive time; relativeTime anchors on the
// clock-skew correction observed the first time this adapter reported a
// wire timestamp, then applies that same correction to every later one.
func (p *Pipeline) resolveTimestamp(identity string, wireTime time.Time, hasWireTime, relativeTime bool) time.Time {
	receiveTime := time.Now().UTC()
	if !hasWireTime {
		return receiveTime
	}
	if !relativeTime {
		return wireTime
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	correction, ok := p.relativeBase[identity]
	if !ok {
		correction = receiveTime.Sub(wireTime)
		p.relativeBase[identity] = correction
	}
	return wireTime.Add(correction)
}
