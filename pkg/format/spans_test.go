// Copyright 2024-2026 Aiku AI

package format

import (
	"testing"
)

func TestReplaceSpans(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		delim byte
		repl  string
		want  string
	}{
		{"no delimiter", "plain", '*', "**", "plain"},
		{"simple", "*a*", '*', "**", "**a**"},
		{"after punctuation", "(*a*)", '*', "_", "(_a_)"},
		{"inside word", "a*b*c", '*', "_", "a*b*c"},
		{"space after opener", "* a*", '*', "_", "* a*"},
		{"space before closer", "*a *", '*', "_", "*a *"},
		{"doubled", "**a**", '*', "_", "**a**"},
		{"multiline", "*a\nb*", '*', "_", "*a\nb*"},
		{"tilde", "~x~ ~y~", '~', "~~", "~~x~~ ~~y~~"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ReplaceSpans(tt.in, tt.delim, tt.repl); got != tt.want {
				t.Errorf("ReplaceSpans(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()
	var p Placeholders
	inner := p.Hold("`code`")
	outer := p.Hold("[" + inner + "]")
	text := "x " + outer + " y"
	if got := p.Restore(text); got != "x [`code`] y" {
		t.Errorf("Restore = %q", got)
	}
}
