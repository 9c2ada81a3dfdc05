package gitvcs

import (
	"bufio"
	"io"
	"strings"

	"agentvcs/internal/vcs"
)

func (r *Repo) Status() (vcs.Status, error) {
	out, err := r.cli.run([]string{"status", "--porcelain=v2"}, "git status")
	if err != nil {
		return vcs.Status{}, err
	}
	status, err := parseStatusPorcelainV2(strings.NewReader(out))
	if err != nil {
		return vcs.Status{}, vcs.NewError(vcs.KindBackend, "parse git status", err)
	}
	return status, nil
}

// parseStatusPorcelainV2 reads `git status --porcelain=v2` output.
// Entry lines:
//
//	1 XY sub mH mI mW hH hI path
//	2 XY sub mH mI mW hH hI Xscore path TAB origPath
//	u XY sub m1 m2 m3 mW h1 h2 h3 path
//	? path
func parseStatusPorcelainV2(r io.Reader) (vcs.Status, error) {
	var res vcs.Status
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case '1':
			state, path, ok := ordinaryEntry(line, 8)
			if !ok {
				continue
			}
			appendByState(&res, state, path)
		case '2':
			state, path, ok := ordinaryEntry(line, 9)
			if !ok {
				continue
			}
			// Keep only the new path; the original follows a tab.
			if newPath, _, found := strings.Cut(path, "\t"); found {
				path = newPath
			}
			appendByState(&res, state, path)
		case 'u':
			fields := strings.SplitN(line, " ", 11)
			if len(fields) == 11 {
				res.Conflicted = append(res.Conflicted, fields[10])
			}
		case '?':
			res.Added = append(res.Added, line[2:])
		default:
			// '!' ignored entries, headers
		}
	}
	return res, scanner.Err()
}

// ordinaryEntry extracts the effective state letter and the path field
// at the given index for '1' and '2' lines.
func ordinaryEntry(line string, pathField int) (byte, string, bool) {
	fields := strings.SplitN(line, " ", pathField+1)
	if len(fields) <= pathField || len(fields[1]) != 2 {
		return 0, "", false
	}
	index, worktree := fields[1][0], fields[1][1]
	state := worktree
	if state == '.' {
		state = index
	}
	return state, fields[pathField], true
}

func appendByState(res *vcs.Status, state byte, path string) {
	switch state {
	case 'A':
		res.Added = append(res.Added, path)
	case 'D':
		res.Deleted = append(res.Deleted, path)
	case 'M', 'T', 'R', 'C':
		res.Modified = append(res.Modified, path)
	}
}
