package shdr

import "strings"

// Accumulator reassembles a multiline payload: a line containing
// "--multiline--TOKEN" opens the body with whatever preceded the
// marker as its first fragment; every following line is appended until
// a line exactly equal to "--multiline--TOKEN" closes it. The closed
// body is delivered as a single data line.
type Accumulator struct {
	terminator string
	open       bool
	body       strings.Builder
}

// Feed processes one raw line. It returns (line, true) when a complete
// data line is ready for the parser: either line was a normal data line
// passed straight through, or a multiline body just closed. It returns
// ("", false) while a multiline body is still open, or when line itself
// just opened one.
func (a *Accumulator) Feed(line string) (string, bool) {
	if a.open {
		if line == a.terminator {
			body := a.body.String()
			a.open = false
			a.terminator = ""
			a.body.Reset()
			return body, true
		}
		if a.body.Len() > 0 {
			a.body.WriteByte('\n')
		}
		a.body.WriteString(line)
		return "", false
	}

	if idx := strings.Index(line, multilineMarker); idx >= 0 {
		a.body.Reset()
		a.body.WriteString(line[:idx])
		a.terminator = line[idx:]
		a.open = true
		return "", false
	}

	return line, true
}

// Open reports whether a multiline body is currently being accumulated.
func (a *Accumulator) Open() bool {
	return a.open
}
