package worker

import (
	"strings"
	"unicode"
)

// ResolveArgs substitutes the prompt into a model's argument template
// and splits it into an argv slice. Single- and double-quoted spans are
// kept as one token with the quotes stripped; unquoted whitespace is
// the only separator.
func ResolveArgs(template, prompt string) []string {
	resolved := strings.ReplaceAll(template, "{{prompt}}", prompt)
	return Tokenize(resolved)
}

// Tokenize splits a resolved argument string honoring quoted spans.
func Tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune

	for _, ch := range s {
		switch {
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && unicode.IsSpace(ch):
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
