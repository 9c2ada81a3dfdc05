package vcs

import (
	"fmt"
	"sort"
	"strings"
)

// KindFromLetter maps a single-letter status code, as printed by both
// engines' summary output, to a ChangeKind.
func KindFromLetter(c byte) (ChangeKind, bool) {
	switch c {
	case 'A':
		return Added, true
	case 'M':
		return Modified, true
	case 'D':
		return Deleted, true
	case 'R':
		return Renamed, true
	case 'C':
		return Copied, true
	}
	return 0, false
}

// ParseSummaryLine parses one "X path" line of engine summary output.
// Rename and copy lines use the form "R old => new".
func ParseSummaryLine(line string) (DiffEntry, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 3 {
		return DiffEntry{}, false
	}
	kind, ok := KindFromLetter(line[0])
	if !ok || line[1] != ' ' {
		return DiffEntry{}, false
	}
	rest := strings.TrimSpace(line[2:])
	if rest == "" {
		return DiffEntry{}, false
	}
	if kind == Renamed || kind == Copied {
		if old, newPath, found := strings.Cut(rest, " => "); found {
			return DiffEntry{
				Kind:    kind,
				Path:    strings.TrimSpace(newPath),
				OldPath: strings.TrimSpace(old),
			}, true
		}
		// A rename line without both sides is malformed, not a plain
		// rename of one path.
		return DiffEntry{}, false
	}
	return DiffEntry{Kind: kind, Path: rest}, true
}

// NormalizeDiff sorts entries by path and enforces the old-path rule:
// Renamed and Copied entries carry an OldPath, all others never do. A
// violating entry is an adapter bug.
func NormalizeDiff(entries []DiffEntry) ([]DiffEntry, error) {
	out := make([]DiffEntry, 0, len(entries))
	for _, e := range entries {
		if e.Path == "" {
			continue
		}
		switch e.Kind {
		case Renamed, Copied:
			if e.OldPath == "" {
				return nil, fmt.Errorf("%s entry for %s has no old path", e.Kind, e.Path)
			}
		default:
			e.OldPath = ""
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FilterDiff keeps only entries whose path (or old path) starts with
// prefix. An empty prefix keeps everything.
func FilterDiff(entries []DiffEntry, prefix string) []DiffEntry {
	if prefix == "" {
		return entries
	}
	out := make([]DiffEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Path, prefix) || (e.OldPath != "" && strings.HasPrefix(e.OldPath, prefix)) {
			out = append(out, e)
		}
	}
	return out
}
