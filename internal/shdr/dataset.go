package shdr

import (
	"strings"

	"github.com/snarg/mtc-agent/internal/observation"
)

// ParseDataSetValue decodes a DATA_SET value token into ordered
// key:value pairs. Tokens are whitespace-separated, except where a
// quoted key or value ("key":"value with spaces") groups whitespace
// together. A colon inside a key may be escaped as "\:". If the first
// bare token is the literal RESET, reset is true and it is consumed
// (not itself a pair).
//
// A malformed pair (no unescaped colon, per spec §9's resolved policy)
// is dropped; the rest of the value is still parsed. malformed reports
// how many pairs were dropped so the caller can log a warning.
func ParseDataSetValue(raw string) (pairs []observation.KV, reset bool, malformed int) {
	tokens := tokenize(raw)
	if len(tokens) > 0 && tokens[0] == "RESET" {
		reset = true
		tokens = tokens[1:]
	}

	for _, tok := range tokens {
		key, value, ok := splitPair(tok)
		if !ok {
			malformed++
			continue
		}
		pairs = append(pairs, observation.KV{Key: key, Value: value})
	}
	return pairs, reset, malformed
}

// tokenize splits raw on whitespace, except inside double-quoted runs,
// where whitespace is preserved as part of the token.
func tokenize(raw string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' || r == '\t':
			if inQuote {
				cur.WriteRune(r)
			} else {
				flush()
			}
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// splitPair separates a single token into key and value at the first
// unescaped, unquoted colon.
func splitPair(tok string) (key, value string, ok bool) {
	runes := []rune(tok)
	inQuote := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes) && runes[i+1] == ':':
			i++ // skip escaped colon, keep literal ':' below
		case r == '"':
			inQuote = !inQuote
		case r == ':' && !inQuote:
			key = unescapeAndUnquote(string(runes[:i]))
			value = unescapeAndUnquote(string(runes[i+1:]))
			return key, value, true
		}
	}
	return "", "", false
}

func unescapeAndUnquote(s string) string {
	s = strings.ReplaceAll(s, `\:`, ":")
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}
