package worker

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"plain words", "run the task", []string{"run", "the", "task"}},
		{"double quotes", `exec -p "hello world" now`, []string{"exec", "-p", "hello world", "now"}},
		{"single quotes", `exec -p 'hello world'`, []string{"exec", "-p", "hello world"}},
		{"empty quoted arg dropped", `exec "" after`, []string{"exec", "after"}},
		{"mixed quotes", `say "it's fine"`, []string{"say", "it's fine"}},
		{"extra spaces", "  a   b  ", []string{"a", "b"}},
		{"empty string", "", nil},
		{"unterminated quote", `echo "open ended`, []string{"echo", "open ended"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Tokenize(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Tokenize(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

// Re-tokenizing the space-joined tokens yields the same tokens, as
// long as no token carries internal whitespace.
func TestTokenizeIdempotent(t *testing.T) {
	inputs := []string{
		"run the task",
		"  a   b  ",
		"exec -p one two three",
		`--flag "value" --other 'value2'`,
		"",
		"single",
	}
	for _, in := range inputs {
		tokens := Tokenize(in)
		for _, tok := range tokens {
			if strings.ContainsAny(tok, " \t\n") {
				t.Fatalf("input %q produced token %q with internal whitespace", in, tok)
			}
		}
		rejoined := strings.Join(tokens, " ")
		if got := Tokenize(rejoined); !reflect.DeepEqual(got, tokens) {
			t.Errorf("Tokenize(%q) = %#v, want %#v after rejoin of %q", rejoined, got, tokens, in)
		}
	}
}

func TestResolveArgs(t *testing.T) {
	got := ResolveArgs(`-p {{prompt}} --format json`, "summarize this")
	want := []string{"-p", "summarize", "this", "--format", "json"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestResolveArgsQuotedPrompt(t *testing.T) {
	got := ResolveArgs(`exec "{{prompt}}"`, "two words")
	want := []string{"exec", "two words"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestResolveArgsEmptyTemplate(t *testing.T) {
	if got := ResolveArgs("", "anything"); len(got) != 0 {
		t.Fatalf("got %#v, want empty", got)
	}
}
