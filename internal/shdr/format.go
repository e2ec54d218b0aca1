package shdr

import "strings"

// FormatDataLine renders a data line back to wire form, the inverse of
// ParseDataLine, used for property testing round-trip fidelity.
func FormatDataLine(dl DataLine) string {
	var b strings.Builder
	if dl.HasWireTime {
		b.WriteString(dl.Timestamp.UTC().Format(timestampLayout))
	}
	for _, kv := range dl.Pairs {
		b.WriteByte('|')
		b.WriteString(kv.Key)
		b.WriteByte('|')
		b.WriteString(kv.Value)
	}
	return b.String()
}
