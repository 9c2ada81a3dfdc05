package jjvcs

import (
	"strings"
	"time"

	"agentvcs/internal/vcs"
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// logTemplate renders one change per record with unit-separator
// delimited fields, so free-form descriptions cannot break parsing.
var logTemplate = strings.Join([]string{
	"change_id",
	`parents.map(|c| c.change_id()).join(" ")`,
	"author.name()",
	"author.email()",
	"committer.timestamp()",
	`if(conflict, "true", "false")`,
	"description",
}, ` ++ "`+fieldSep+`" ++ `) + ` ++ "`+recordSep+`"`

// parseLogEntries decodes logTemplate output.
func parseLogEntries(out string) []vcs.ChangeInfo {
	var entries []vcs.ChangeInfo
	for _, record := range strings.Split(out, recordSep) {
		fields := strings.Split(record, fieldSep)
		if len(fields) != 7 {
			continue
		}
		id := strings.TrimSpace(fields[0])
		if id == "" {
			continue
		}
		entry := vcs.ChangeInfo{
			ID:         vcs.ChangeID(id),
			Author:     fields[2],
			Email:      fields[3],
			Timestamp:  parseTimestamp(fields[4]),
			Conflicted: fields[5] == "true",
			Message:    fields[6],
		}
		for _, p := range strings.Fields(fields[1]) {
			entry.Parents = append(entry.Parents, vcs.ChangeID(p))
		}
		entries = append(entries, entry)
	}
	return entries
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		"2006-01-02 15:04:05.000 -07:00",
		"2006-01-02 15:04:05 -07:00",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseWorkingCopyChangeID extracts the change id from "Working copy
// now at: <id> ..." lines that jj prints after mutating commands.
func parseWorkingCopyChangeID(out string) (vcs.ChangeID, bool) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Working copy now at:") {
			continue
		}
		parts := strings.Fields(line)
		for i, p := range parts {
			if p == "at:" && i+1 < len(parts) {
				return vcs.ChangeID(parts[i+1]), true
			}
		}
	}
	return "", false
}

// parseStatus reads `jj status` output. File lines appear under
// "Working copy changes:" as "M path"; conflicted paths appear under
// their own header, one per line with a trailing conflict note.
func parseStatus(out string) vcs.Status {
	var res vcs.Status
	const (
		sectionNone = iota
		sectionChanges
		sectionConflicts
	)
	section := sectionNone
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Working copy changes:"):
			section = sectionChanges
			continue
		case strings.Contains(line, "unresolved conflicts at these paths"):
			section = sectionConflicts
			continue
		case strings.HasPrefix(line, "Working copy") || strings.HasPrefix(line, "Parent commit"):
			section = sectionNone
			continue
		case line == "":
			section = sectionNone
			continue
		}
		switch section {
		case sectionChanges:
			if entry, ok := vcs.ParseSummaryLine(line); ok {
				switch entry.Kind {
				case vcs.Added:
					res.Added = append(res.Added, entry.Path)
				case vcs.Deleted:
					res.Deleted = append(res.Deleted, entry.Path)
				default:
					res.Modified = append(res.Modified, entry.Path)
				}
			}
		case sectionConflicts:
			// "file.txt    2-sided conflict"
			if fields := strings.Fields(line); len(fields) > 0 {
				res.Conflicted = append(res.Conflicted, fields[0])
			}
		}
	}
	return res
}

// parseDiffSummary reads `jj diff --summary` output: one "X path" line
// per file, renames as "R old => new".
func parseDiffSummary(out string) ([]vcs.DiffEntry, error) {
	var entries []vcs.DiffEntry
	for _, line := range strings.Split(out, "\n") {
		if entry, ok := vcs.ParseSummaryLine(line); ok {
			entries = append(entries, entry)
		}
	}
	return vcs.NormalizeDiff(entries)
}

// parseBranchList reads `jj branch list` output. Untracked remote
// branches print at top level as "name@remote:"; tracked ones print
// indented under their local branch as "@remote:". Lines look like:
//
//	main: qpvuntsm 170df84c start work
//	  @origin: qpvuntsm 170df84c start work
//	feature (conflicted): ...
//	main@origin: qpvuntsm 170df84c start work
func parseBranchList(out string) []vcs.BranchInfo {
	var branches []vcs.BranchInfo
	var lastLocal string
	for _, raw := range strings.Split(out, "\n") {
		if raw == "" {
			continue
		}
		indented := strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
		line := strings.TrimSpace(raw)
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if i := strings.IndexByte(name, ' '); i >= 0 {
			// Drop annotations like "(conflicted)" or "(deleted)".
			name = name[:i]
		}
		if name == "" {
			continue
		}
		if indented {
			if lastLocal == "" || !strings.HasPrefix(name, "@") {
				continue
			}
			name = lastLocal + name
		} else if !strings.Contains(name, "@") {
			lastLocal = name
		}
		info := vcs.BranchInfo{Name: name, IsRemote: strings.Contains(name, "@")}
		if fields := strings.Fields(rest); len(fields) > 0 {
			info.Target = vcs.ChangeID(fields[0])
		}
		branches = append(branches, info)
	}
	return branches
}

// parseRemoteList reads `jj git remote list` output: "name url" lines.
func parseRemoteList(out string) []vcs.Remote {
	var remotes []vcs.Remote
	for _, raw := range strings.Split(out, "\n") {
		fields := strings.Fields(raw)
		if len(fields) >= 2 {
			remotes = append(remotes, vcs.Remote{Name: fields[0], URL: fields[1]})
		}
	}
	return remotes
}
