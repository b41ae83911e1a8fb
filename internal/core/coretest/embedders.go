// Package coretest holds in-memory fakes of the core interfaces for tests.
package coretest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/markdave123-py/Contexta/internal/core"
)

// ErrInjected is returned by FailingEmbedder.
var ErrInjected = errors.New("injected embedding failure")

// TopicEmbedder maps text onto one dimension per topic, counting how many
// of the topic's keywords occur in it. Texts on the same topic are
// parallel; texts on disjoint topics are orthogonal.
type TopicEmbedder struct {
	Topics [][]string

	mu    sync.Mutex
	calls int
	texts int
}

var _ core.Embedder = (*TopicEmbedder)(nil)

func NewTopicEmbedder(topics ...[]string) *TopicEmbedder {
	return &TopicEmbedder{Topics: topics}
}

func (e *TopicEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *TopicEmbedder) vector(text string) []float32 {
	vec := make([]float32, len(e.Topics))
	for _, w := range words(text) {
		for d, kws := range e.Topics {
			for _, kw := range kws {
				if w == kw {
					vec[d]++
				}
			}
		}
	}
	return vec
}

// Calls returns the number of Embed invocations so far.
func (e *TopicEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ConstantEmbedder returns the same vector for every text.
type ConstantEmbedder struct {
	Vector []float32
}

var _ core.Embedder = ConstantEmbedder{}

func (e ConstantEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := e.Vector
	if vec == nil {
		vec = []float32{1, 0, 0}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), vec...)
	}
	return out, nil
}

// ConcurrencyEmbedder records the peak number of simultaneous Embed calls.
// Each call holds for Delay before delegating to Inner.
type ConcurrencyEmbedder struct {
	Inner core.Embedder
	Delay time.Duration

	current atomic.Int64
	peak    atomic.Int64
	calls   atomic.Int64
}

var _ core.Embedder = (*ConcurrencyEmbedder)(nil)

func (e *ConcurrencyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := e.current.Add(1)
	defer e.current.Add(-1)
	e.calls.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	inner := e.Inner
	if inner == nil {
		inner = ConstantEmbedder{}
	}
	return inner.Embed(ctx, texts)
}

// Peak is the highest number of overlapping calls observed.
func (e *ConcurrencyEmbedder) Peak() int { return int(e.peak.Load()) }

// Calls is the total number of calls observed.
func (e *ConcurrencyEmbedder) Calls() int { return int(e.calls.Load()) }

// FailingEmbedder fails calls whose input contains FailOn, and the first
// FailFirst calls regardless of input. Everything else goes to Inner.
type FailingEmbedder struct {
	Inner     core.Embedder
	FailOn    string
	FailFirst int
	Err       error

	calls atomic.Int64
}

var _ core.Embedder = (*FailingEmbedder)(nil)

func (e *FailingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := e.calls.Add(1)
	fail := int(n) <= e.FailFirst
	if e.FailOn != "" {
		for _, t := range texts {
			if strings.Contains(t, e.FailOn) {
				fail = true
				break
			}
		}
	}
	if fail {
		if e.Err != nil {
			return nil, e.Err
		}
		return nil, ErrInjected
	}
	inner := e.Inner
	if inner == nil {
		inner = ConstantEmbedder{}
	}
	return inner.Embed(ctx, texts)
}

// Calls is the total number of calls observed.
func (e *FailingEmbedder) Calls() int { return int(e.calls.Load()) }

// TokenEmbedder emits one token per whitespace-separated word, each
// carrying Vector, and refuses documents with more than Limit words.
type TokenEmbedder struct {
	Vector []float32
	Limit  int
	// ReportedLimit overrides what MaxContextTokens returns.
	ReportedLimit int

	tokenCalls atomic.Int64
	embedCalls atomic.Int64
}

var _ core.TokenEmbedder = (*TokenEmbedder)(nil)

func (e *TokenEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.embedCalls.Add(1)
	return ConstantEmbedder{Vector: e.Vector}.Embed(ctx, texts)
}

func (e *TokenEmbedder) EmbedTokens(ctx context.Context, text string) ([]core.TokenEmbedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.tokenCalls.Add(1)
	vec := e.Vector
	if vec == nil {
		vec = []float32{1, 0, 0}
	}

	var out []core.TokenEmbedding
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			out = append(out, core.TokenEmbedding{Offset: i, Vector: append([]float32(nil), vec...)})
			inWord = true
		}
	}
	if e.Limit > 0 && len(out) > e.Limit {
		return nil, core.ErrContextLimitExceeded
	}
	return out, nil
}

func (e *TokenEmbedder) MaxContextTokens() int {
	if e.ReportedLimit != 0 {
		return e.ReportedLimit
	}
	return e.Limit
}

// TokenCalls is the number of EmbedTokens invocations.
func (e *TokenEmbedder) TokenCalls() int { return int(e.tokenCalls.Load()) }

// EmbedCalls is the number of Embed invocations.
func (e *TokenEmbedder) EmbedCalls() int { return int(e.embedCalls.Load()) }
