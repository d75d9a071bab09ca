// Copyright 2024-2026 Aiku AI

// Package format holds helpers shared by the markup converters.
package format

import (
	"strconv"
	"strings"
)

func isWordByte(b byte) bool {
	return b >= 0x80 || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ReplaceSpans rewrites single-line spans wrapped in delim, replacing both
// delimiters with repl. A span opens at a delimiter that does not follow a
// word character and is followed by a non-space, and closes at the next
// delimiter on the same line that follows a non-space and does not precede
// a word character. Doubled delimiters never open a span.
func ReplaceSpans(text string, delim byte, repl string) string {
	if strings.IndexByte(text, delim) == -1 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); {
		c := text[i]
		if c == delim &&
			(i == 0 || !isWordByte(text[i-1]) && text[i-1] != delim) &&
			i+1 < len(text) && !isSpace(text[i+1]) && text[i+1] != delim {
			j := i + 1
			for j < len(text) && text[j] != '\n' {
				if text[j] == delim && !isSpace(text[j-1]) &&
					(j+1 == len(text) || !isWordByte(text[j+1]) && text[j+1] != delim) {
					break
				}
				j++
			}
			if j < len(text) && text[j] == delim {
				sb.WriteString(repl)
				sb.WriteString(text[i+1 : j])
				sb.WriteString(repl)
				i = j + 1
				continue
			}
		}
		sb.WriteByte(c)
		i++
	}
	return sb.String()
}

// Placeholders swaps protected fragments (code, links) out of a message
// while it is rewritten and puts them back afterwards.
type Placeholders struct {
	items []string
}

// Hold stores s and returns the token that stands in for it.
func (p *Placeholders) Hold(s string) string {
	idx := len(p.items)
	p.items = append(p.items, s)
	return "\x00" + strconv.Itoa(idx) + "\x00"
}

// Restore replaces every token in text with its stored fragment.
func (p *Placeholders) Restore(text string) string {
	for i := len(p.items) - 1; i >= 0; i-- {
		text = strings.Replace(text, "\x00"+strconv.Itoa(i)+"\x00", p.items[i], 1)
	}
	return text
}
