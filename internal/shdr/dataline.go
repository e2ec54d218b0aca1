package shdr

import (
	"strings"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.999999Z"

// DataLine is a decoded data-line: an optional wire timestamp (zero if
// the adapter's receive time should be used) and its key/value pairs in
// order.
type DataLine struct {
	Timestamp   time.Time
	HasWireTime bool
	Pairs       []KeyValue
}

// KeyValue is one data-item key and its raw (unparsed) value token.
type KeyValue struct {
	Key   string
	Value string
}

// ParseDataLine splits a data line on "|". If the first token parses as
// an ISO-8601 timestamp, it becomes the wire timestamp; if it is empty,
// it is skipped and the adapter substitutes its own receive time;
// otherwise every token is treated as a key/value pair and receive time
// is used as well.
func ParseDataLine(line string) DataLine {
	tokens := strings.Split(line, "|")
	if len(tokens) == 0 {
		return DataLine{}
	}

	var dl DataLine
	rest := tokens
	if ts, err := time.Parse(timestampLayout, tokens[0]); err == nil {
		dl.Timestamp = ts
		dl.HasWireTime = true
		rest = tokens[1:]
	} else if tokens[0] == "" {
		rest = tokens[1:]
	}

	for i := 0; i+1 < len(rest); i += 2 {
		dl.Pairs = append(dl.Pairs, KeyValue{Key: rest[i], Value: rest[i+1]})
	}
	return dl
}
