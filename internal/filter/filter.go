// Package filter implements the walker's per-entry admission policy:
// included/excluded paths, excluded filesystem types, and excluded
// filename patterns, applied during the scan/upload walk.
//
// Grounded on the Upload::setFilter/BindF1Base predicate hook in
// upload.cc - a single boolean predicate over a path - reshaped into an
// idiomatic Go value type built once from config and called per entry.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/coldvault/vaultengine/internal/vconfig"
)

// Filter decides whether the walker should descend into or upload a
// given path.
type Filter struct {
	included []string
	excluded []string
	fsTypes  map[string]struct{}
	patterns []string
}

// New builds a Filter from the configuration's filter lists.
func New(cfg vconfig.Filter) *Filter {
	fsTypes := make(map[string]struct{}, len(cfg.ExcludedFilesystemTypes))
	for _, t := range cfg.ExcludedFilesystemTypes {
		fsTypes[strings.ToLower(t)] = struct{}{}
	}

	return &Filter{
		included: append([]string(nil), cfg.IncludedPaths...),
		excluded: append([]string(nil), cfg.ExcludedPaths...),
		fsTypes:  fsTypes,
		patterns: append([]string(nil), cfg.ExcludedNamePatterns...),
	}
}

// Admit reports whether path should be walked/uploaded. name is the base
// name checked against the excluded-pattern list; fsType is the entry's
// filesystem type (empty if unknown, e.g. non-root mounts aren't probed).
func (f *Filter) Admit(path, name, fsType string) bool {
	if !f.underIncluded(path) {
		return false
	}

	if f.underExcluded(path) {
		return false
	}

	if fsType != "" {
		if _, excluded := f.fsTypes[strings.ToLower(fsType)]; excluded {
			return false
		}
	}

	for _, pat := range f.patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return false
		}
	}

	return true
}

func (f *Filter) underIncluded(path string) bool {
	if len(f.included) == 0 {
		return true
	}

	for _, inc := range f.included {
		if isWithin(inc, path) {
			return true
		}
	}

	return false
}

func (f *Filter) underExcluded(path string) bool {
	for _, exc := range f.excluded {
		if isWithin(exc, path) {
			return true
		}
	}

	return false
}

// isWithin reports whether path is base or a descendant of base.
func isWithin(base, path string) bool {
	base = filepath.Clean(base)
	path = filepath.Clean(path)

	if base == path {
		return true
	}

	return strings.HasPrefix(path, base+string(filepath.Separator))
}
