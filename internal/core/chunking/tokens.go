package chunking

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer defines the unit chunk sizes are measured in. Boundaries returns
// strictly increasing byte offsets starting at 0 and ending at len(text),
// one more than the number of units; every offset is a rune boundary.
type Tokenizer interface {
	Boundaries(text string) []int
	Count(text string) int
}

// Characters measures sizes in runes.
var Characters Tokenizer = charTokenizer{}

type charTokenizer struct{}

func (charTokenizer) Boundaries(text string) []int {
	out := make([]int, 0, len(text)+1)
	for i := range text {
		out = append(out, i)
	}
	return append(out, len(text))
}

func (charTokenizer) Count(text string) int {
	return utf8.RuneCountInString(text)
}

// TiktokenTokenizer measures sizes in BPE tokens.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads a BPE encoding such as "cl100k_base".
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

// Boundaries decodes each token to learn its byte length. Tokens that end
// inside a multi-byte rune are merged with the following token.
func (t *TiktokenTokenizer) Boundaries(text string) []int {
	ids := t.enc.EncodeOrdinary(text)
	out := make([]int, 1, len(ids)+1)
	pos := 0
	for _, id := range ids {
		pos += len(t.enc.Decode([]int{id}))
		if pos > len(text) {
			pos = len(text)
		}
		for pos < len(text) && !utf8.RuneStart(text[pos]) {
			pos++
		}
		if pos > out[len(out)-1] {
			out = append(out, pos)
		}
	}
	if out[len(out)-1] != len(text) {
		out = append(out, len(text))
	}
	return out
}

func (t *TiktokenTokenizer) Count(text string) int {
	return len(t.enc.EncodeOrdinary(text))
}

// ApproxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func ApproxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
