package markdown

import (
	"strings"
	"unicode/utf8"
)

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const mdV2SpecialChars = `._[](){}#|!+-=*~>` + "`"

//nolint:gochecknoglobals // Lookup table meant to be immutable.
var mdV2Lookup = func() [256]bool {
	var m [256]bool
	for i := range len(mdV2SpecialChars) {
		m[mdV2SpecialChars[i]] = true
	}
	return m
}()

func EscapeV2(input string) string {
	charsToEscape := 0

	for i := range len(input) {
		if mdV2Lookup[input[i]] {
			charsToEscape++
		}
	}
	if charsToEscape == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + charsToEscape)

	for i := range len(input) {
		c := input[i]
		if mdV2Lookup[c] {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}

// Split cuts text into pages of at most limit runes. Pages end on a line
// break when one exists in the second half of the page.
func Split(text string, limit int) []string {
	if limit <= 0 || text == "" {
		return nil
	}

	var pages []string

	for text != "" {
		if utf8.RuneCountInString(text) <= limit {
			pages = append(pages, text)
			break
		}

		cut := byteOffset(text, limit)
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl >= cut/2 {
			cut = nl + 1
		}

		pages = append(pages, text[:cut])
		text = text[cut:]
	}

	return pages
}

func byteOffset(text string, runes int) int {
	offset := 0
	for range runes {
		_, size := utf8.DecodeRuneInString(text[offset:])
		offset += size
	}
	return offset
}
