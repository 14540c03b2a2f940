package chat

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	titleMaxChars = 50
	titleEllipsis = "..."
)

// GenerateTitle derives a conversation title from message content: the first
// 50 characters, cut back to the last whitespace boundary and suffixed with
// an ellipsis when the content is longer than that.
func GenerateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxChars {
		return content
	}
	head := runes[:titleMaxChars]
	// A word that ends exactly at the cut is still whole.
	if unicode.IsSpace(runes[titleMaxChars]) {
		return strings.TrimRightFunc(string(head), unicode.IsSpace) + titleEllipsis
	}
	cut := len(head)
	for i := len(head) - 1; i >= 0; i-- {
		if unicode.IsSpace(head[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(head[:cut]), unicode.IsSpace) + titleEllipsis
}

var numberedTitle = regexp.MustCompile(`^Conversation \d+$`)

// PlaceholderTitle reports whether a title supplied at creation time is one
// of the generic names the UI uses before a conversation has content.
func PlaceholderTitle(title string) bool {
	t := strings.TrimSpace(title)
	return t == "" || t == DefaultTitle || numberedTitle.MatchString(t)
}

func numberedPlaceholder(id uint64) string {
	return fmt.Sprintf("Conversation %d", id)
}
