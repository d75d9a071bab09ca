// Copyright 2024-2026 Aiku AI

// Package whatsappfmt converts WhatsApp markup to Mattermost markdown.
package whatsappfmt

import (
	"regexp"
	"strings"

	"github.com/aiku/wa-mattermost-relay/pkg/format"
)

var (
	codeBlockRe = regexp.MustCompile("(?s)```(.+?)```")
	codeRe      = regexp.MustCompile("`[^`\n]+`")
)

// Parse converts a WhatsApp message body to Mattermost markdown. Bold
// (*x*) and strikethrough (~x~) are rewritten; italics (_x_), quotes and
// inline code already match.
func Parse(text string) string {
	if text == "" {
		return ""
	}
	if !strings.ContainsAny(text, "*~`") {
		return text
	}

	var held format.Placeholders

	// Step 1: Monospace blocks. Multi-line ones become fenced blocks.
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		content := codeBlockRe.FindStringSubmatch(match)[1]
		if strings.Contains(content, "\n") {
			return held.Hold("```\n" + strings.Trim(content, "\n") + "\n```")
		}
		return held.Hold("`" + content + "`")
	})
	text = codeRe.ReplaceAllStringFunc(text, held.Hold)

	// Step 2: Inline styles.
	text = format.ReplaceSpans(text, '*', "**")
	text = format.ReplaceSpans(text, '~', "~~")

	return held.Restore(text)
}
