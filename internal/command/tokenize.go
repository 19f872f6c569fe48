package command

import "strings"

// Tokenize splits a command line on spaces. A double quote toggles quoted
// mode, where spaces become part of the token; the quotes themselves are
// dropped. There is no escaping, and an unterminated quote runs to the end of
// the line. Runs of spaces never produce empty tokens.
func Tokenize(line string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
