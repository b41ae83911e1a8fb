package handlers

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
)

// ErrSourceNotAllowed is returned for a source an HTTP caller may not name.
var ErrSourceNotAllowed = errors.New("source not allowed")

// SourceGuard vets caller-supplied sources before they reach the extractor.
// Allow returns the source to extract, which may be rewritten.
type SourceGuard interface {
	Allow(source string) (string, error)
}

// RootedSources allows object storage URLs, and local files only when Root
// is set and the path resolves inside it. Relative paths are taken relative
// to Root.
type RootedSources struct {
	Root string
}

func (g RootedSources) Allow(source string) (string, error) {
	if _, _, ok := ingestion_engine.ParseS3URL(source); ok {
		return source, nil
	}
	if g.Root == "" {
		return "", fmt.Errorf("%w: %q: local files are disabled", ErrSourceNotAllowed, source)
	}

	root, err := realPath(g.Root)
	if err != nil {
		return "", fmt.Errorf("source root: %w", err)
	}
	p := strings.TrimPrefix(source, "file://")
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p, err = realPath(p)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrSourceNotAllowed, source, err)
	}

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the source root", ErrSourceNotAllowed, source)
	}
	return p, nil
}

// realPath makes p absolute and resolves symlinks when p exists, so a link
// inside the root cannot point outside it.
func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// allowSources runs every source through g, stopping at the first refusal.
func allowSources(g SourceGuard, sources []string) ([]string, error) {
	out := make([]string, len(sources))
	for i, s := range sources {
		allowed, err := g.Allow(s)
		if err != nil {
			return nil, err
		}
		out[i] = allowed
	}
	return out, nil
}
