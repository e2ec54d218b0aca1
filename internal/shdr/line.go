// Package shdr decodes the Simple Hierarchical Data Representation line
// protocol spoken by adapters: protocol commands, multiline payloads,
// and timestamped data lines, including the DATA_SET value grammar.
package shdr

import "strings"

// LineKind classifies a single line of adapter input.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineCommand
	LineMultilineStart
	LineData
)

const multilineMarker = "--multiline--"

// Classify determines the kind of a raw line. Multiline continuation and
// terminator lines are handled by Accumulator, not by Classify, since
// recognizing them requires the in-flight terminator token.
func Classify(line string) LineKind {
	if strings.TrimSpace(line) == "" {
		return LineEmpty
	}
	if strings.HasPrefix(strings.TrimSpace(line), "*") {
		return LineCommand
	}
	if strings.Contains(line, multilineMarker) {
		return LineMultilineStart
	}
	return LineData
}
