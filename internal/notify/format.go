// Package notify delivers user-facing messages through pluggable
// channels with bounded retries. Delivery is at-least-once; a retried
// send may duplicate a message, it never silently drops one.
package notify

import (
	"fmt"
	"strings"
)

// MaxMessageLength is the largest chunk a channel is asked to send.
// Kept under Telegram's 4096 hard limit to leave room for markup.
const MaxMessageLength = 3500

// EscapeHTML escapes text for HTML-mode messages.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// Bold wraps escaped text in bold tags.
func Bold(s string) string {
	return "<b>" + EscapeHTML(s) + "</b>"
}

// Italic wraps escaped text in italic tags.
func Italic(s string) string {
	return "<i>" + EscapeHTML(s) + "</i>"
}

// Code wraps escaped text in a monospace tag.
func Code(s string) string {
	return "<code>" + EscapeHTML(s) + "</code>"
}

// Link renders an HTML anchor.
func Link(text, url string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, url, EscapeHTML(text))
}

// ChunkText splits text into chunks no longer than MaxMessageLength,
// preferring newline boundaries so markup and sentences stay intact.
func ChunkText(text string) []string {
	if len(text) <= MaxMessageLength {
		return []string{text}
	}

	var chunks []string
	for len(text) > MaxMessageLength {
		cut := strings.LastIndex(text[:MaxMessageLength], "\n")
		if cut <= 0 {
			cut = MaxMessageLength
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
