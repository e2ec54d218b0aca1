package shdr

import (
	"testing"
	"time"
)

func TestClassifyLineKinds(t *testing.T) {
	cases := map[string]LineKind{
		"":                            LineEmpty,
		"   ":                         LineEmpty,
		"* conversionRequired: yes":   LineCommand,
		"foo--multiline--TOKEN1":      LineMultilineStart,
		"2021-01-01T00:00:00Z|a|1":    LineData,
	}
	for in, want := range cases {
		if got := Classify(in); got != want {
			t.Errorf("Classify(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseCommandRecognizesOptionKeys(t *testing.T) {
	cmd, ok := ParseCommand("* conversionRequired: yes")
	if !ok {
		t.Fatal("expected match")
	}
	if cmd.Key != "conversionRequired" || cmd.Value != "yes" {
		t.Fatalf("cmd = %+v", cmd)
	}
	if !IsRecognizedOption(cmd.Key) {
		t.Fatal("expected conversionRequired to be recognized")
	}
	if !IsTrue(cmd.Value) {
		t.Fatal("expected yes to be true")
	}
}

func TestParseCommandUnrecognizedPassesThrough(t *testing.T) {
	cmd, ok := ParseCommand("* custom: some value")
	if !ok {
		t.Fatal("expected match")
	}
	if IsRecognizedOption(cmd.Key) {
		t.Fatal("custom should not be recognized")
	}
}

func TestIsTrueOnlyYesAndTrue(t *testing.T) {
	for v, want := range map[string]bool{"yes": true, "true": true, "no": false, "false": false, "1": false} {
		if got := IsTrue(v); got != want {
			t.Errorf("IsTrue(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestParseDataLineWithWireTimestamp(t *testing.T) {
	dl := ParseDataLine("2021-06-01T12:00:00.123456Z|avail|AVAILABLE")
	if !dl.HasWireTime {
		t.Fatal("expected wire time")
	}
	if len(dl.Pairs) != 1 || dl.Pairs[0].Key != "avail" || dl.Pairs[0].Value != "AVAILABLE" {
		t.Fatalf("pairs = %+v", dl.Pairs)
	}
}

func TestParseDataLineWithoutTimestampUsesReceiveTime(t *testing.T) {
	dl := ParseDataLine("avail|AVAILABLE|power|ON")
	if dl.HasWireTime {
		t.Fatal("expected no wire time")
	}
	if len(dl.Pairs) != 2 {
		t.Fatalf("pairs = %+v", dl.Pairs)
	}
}

func TestDataLineRoundTrip(t *testing.T) {
	ts := time.Date(2021, 6, 1, 12, 0, 0, 123456000, time.UTC)
	original := DataLine{Timestamp: ts, HasWireTime: true, Pairs: []KeyValue{{"avail", "AVAILABLE"}, {"power", "ON"}}}
	line := FormatDataLine(original)
	reparsed := ParseDataLine(line)

	if !reparsed.HasWireTime || !reparsed.Timestamp.Equal(original.Timestamp) {
		t.Fatalf("timestamp mismatch: got %v, want %v", reparsed.Timestamp, original.Timestamp)
	}
	if len(reparsed.Pairs) != len(original.Pairs) {
		t.Fatalf("pairs = %+v", reparsed.Pairs)
	}
	for i, kv := range original.Pairs {
		if reparsed.Pairs[i] != kv {
			t.Fatalf("pair %d: got %+v, want %+v", i, reparsed.Pairs[i], kv)
		}
	}
}

func TestMultilineAccumulation(t *testing.T) {
	p := &Parser{}
	if ev := p.Feed("2021-01-01T00:00:00Z|program--multiline--TOKEN1"); ev.Kind != EventNone {
		t.Fatalf("expected open multiline to yield no event, got %+v", ev)
	}
	if ev := p.Feed("line one"); ev.Kind != EventNone {
		t.Fatalf("expected accumulation, got %+v", ev)
	}
	if ev := p.Feed("line two"); ev.Kind != EventNone {
		t.Fatalf("expected accumulation, got %+v", ev)
	}
	ev := p.Feed("--multiline--TOKEN1")
	if ev.Kind != EventData {
		t.Fatalf("expected data event on terminator, got %+v", ev)
	}
	if !ev.Data.HasWireTime {
		t.Fatal("expected wire timestamp from first fragment")
	}
}

// S1: initial DATA_SET value, whitespace-separated pairs.
func TestParseDataSetValueInitialSet(t *testing.T) {
	pairs, reset, malformed := ParseDataSetValue("a:1 b:2 c:3 d:4")
	if reset {
		t.Fatal("expected no reset")
	}
	if malformed != 0 {
		t.Fatalf("malformed = %d, want 0", malformed)
	}
	if len(pairs) != 4 {
		t.Fatalf("pairs = %+v", pairs)
	}
}

// S3: reset-prefixed value.
func TestParseDataSetValueReset(t *testing.T) {
	pairs, reset, _ := ParseDataSetValue("RESET e:6")
	if !reset {
		t.Fatal("expected reset")
	}
	if len(pairs) != 1 || pairs[0].Key != "e" || pairs[0].Value != "6" {
		t.Fatalf("pairs = %+v", pairs)
	}
}

func TestParseDataSetValueQuotedSpaces(t *testing.T) {
	pairs, _, malformed := ParseDataSetValue(`"key with space":"value with spaces" b:2`)
	if malformed != 0 {
		t.Fatalf("malformed = %d, want 0", malformed)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %+v", pairs)
	}
	if pairs[0].Key != "key with space" || pairs[0].Value != "value with spaces" {
		t.Fatalf("pairs[0] = %+v", pairs[0])
	}
}

func TestParseDataSetValueEscapedColonInKey(t *testing.T) {
	pairs, _, malformed := ParseDataSetValue(`key\:colon:value`)
	if malformed != 0 {
		t.Fatalf("malformed = %d, want 0", malformed)
	}
	if len(pairs) != 1 || pairs[0].Key != "key:colon" || pairs[0].Value != "value" {
		t.Fatalf("pairs = %+v", pairs)
	}
}

// Malformed-pair policy: drop the malformed pair, accept the rest.
func TestParseDataSetValueDropsMalformedPair(t *testing.T) {
	pairs, _, malformed := ParseDataSetValue("a:1 b c:3")
	if malformed != 1 {
		t.Fatalf("malformed = %d, want 1", malformed)
	}
	if len(pairs) != 2 || pairs[0].Key != "a" || pairs[1].Key != "c" {
		t.Fatalf("pairs = %+v", pairs)
	}
}
