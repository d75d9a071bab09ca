// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermostfmt converts Mattermost markdown to WhatsApp markup.
package mattermostfmt

import (
	"regexp"
	"strings"

	"github.com/aiku/wa-mattermost-relay/pkg/format"
)

// boldMark stands in for a WhatsApp bold asterisk until italics are done.
const boldMark = "\x01"

var (
	codeBlockRe  = regexp.MustCompile("(?s)```[\\w+-]*\\n?(.*?)```")
	codeRe       = regexp.MustCompile("`[^`\n]+`")
	imageRe      = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)[^)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)[^)]*\)`)
	headingRe    = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	ulRe         = regexp.MustCompile(`^(\s*)[-*+]\s+(.+)$`)
	boldStarRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__(.+?)__`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	autolinkRe   = regexp.MustCompile(`<(https?://[^>\s]+)>`)
	extraBlankRe = regexp.MustCompile(`\n{3,}`)
)

// Format converts a Mattermost post message to a WhatsApp message body.
func Format(text string) string {
	if text == "" {
		return ""
	}

	var held format.Placeholders

	// Code first (preserve content inside).
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		content := codeBlockRe.FindStringSubmatch(match)[1]
		return held.Hold("```" + strings.TrimRight(content, "\n") + "```")
	})
	text = codeRe.ReplaceAllStringFunc(text, held.Hold)

	// Links.
	text = imageRe.ReplaceAllStringFunc(text, func(match string) string {
		return held.Hold(imageRe.FindStringSubmatch(match)[1])
	})
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		if label == href || strings.TrimPrefix(href, "mailto:") == label {
			return held.Hold(href)
		}
		return label + " (" + held.Hold(href) + ")"
	})
	text = autolinkRe.ReplaceAllStringFunc(text, func(match string) string {
		return held.Hold(autolinkRe.FindStringSubmatch(match)[1])
	})

	// Headings and lists, line by line.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			lines[i] = boldMark + strings.TrimSpace(m[1]) + boldMark
		} else if m := ulRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + "• " + m[2]
		}
	}
	text = strings.Join(lines, "\n")

	// Inline formatting.
	text = boldStarRe.ReplaceAllString(text, boldMark+"$1"+boldMark)
	text = boldUnderRe.ReplaceAllString(text, boldMark+"$1"+boldMark)
	text = format.ReplaceSpans(text, '*', "_")
	text = strikeRe.ReplaceAllString(text, "~$1~")
	text = strings.ReplaceAll(text, boldMark, "*")

	text = extraBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(held.Restore(text))
}
