// Package segmenter splits raw text into sentences with byte-offset provenance.
package segmenter

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/markdave123-py/Contexta/internal/models"
)

// abbreviations never end a sentence when followed by a period.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "inc": {}, "ltd": {},
	"co": {}, "corp": {}, "fig": {}, "no": {}, "vol": {}, "approx": {},
	"dept": {}, "est": {}, "mt": {}, "gen": {}, "rev": {}, "cf": {}, "al": {},
}

// Segment splits text into ordered sentences. Whitespace following a
// sentence terminator belongs to that sentence, so concatenating the Text
// of every returned sentence reproduces text exactly. Text without any
// sentence punctuation comes back as a single sentence; empty text as none.
func Segment(text string) []models.Sentence {
	if text == "" {
		return nil
	}

	var (
		out   []models.Sentence
		start int
		i     int
	)
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isTerminator(r) {
			i += size
			continue
		}

		// Swallow runs like "?!", "..." and closing quotes or brackets.
		end := i + size
		for end < len(text) {
			next, n := utf8.DecodeRuneInString(text[end:])
			if !isTerminator(next) && !isCloser(next) {
				break
			}
			end += n
		}

		if end < len(text) && !isFullWidthTerminator(r) {
			next, _ := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(next) {
				i = end
				continue
			}
		}
		if r == '.' && !endsSentence(text[start:i]) {
			i = end
			continue
		}

		ws := end
		for ws < len(text) {
			next, n := utf8.DecodeRuneInString(text[ws:])
			if !unicode.IsSpace(next) {
				break
			}
			ws += n
		}
		// A lowercase continuation means quoted or inline punctuation.
		if ws < len(text) {
			next, _ := utf8.DecodeRuneInString(text[ws:])
			if unicode.IsLower(next) {
				i = end
				continue
			}
		}

		out = append(out, models.Sentence{Start: start, End: ws, Text: text[start:ws]})
		start, i = ws, ws
	}
	if start < len(text) {
		out = append(out, models.Sentence{Start: start, End: len(text), Text: text[start:]})
	}
	return out
}

// endsSentence reports whether a period directly after prefix is a real
// sentence end rather than an abbreviation or an initial.
func endsSentence(prefix string) bool {
	j := len(prefix)
	for j > 0 {
		r, n := utf8.DecodeLastRuneInString(prefix[:j])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		j -= n
	}
	word := prefix[j:]
	if word == "" {
		return true
	}
	if _, ok := abbreviations[strings.ToLower(word)]; ok {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		if unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return isFullWidthTerminator(r)
}

func isFullWidthTerminator(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»', '」', '』':
		return true
	}
	return false
}
