package coverage

import (
	"sort"
)

// Report maps file -> line -> hit count.
type Report struct {
	Files map[string]map[int]int `json:"files"`
	// Incomplete is set when at least one expected input was missing or
	// unreadable; Missing lists the job ids concerned.
	Incomplete bool     `json:"incomplete,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{Files: make(map[string]map[int]int)}
}

// Add records hits for line of file.
func (r *Report) Add(file string, line, hits int) {
	if r.Files == nil {
		r.Files = make(map[string]map[int]int)
	}
	lines, ok := r.Files[file]
	if !ok {
		lines = make(map[int]int)
		r.Files[file] = lines
	}
	lines[line] += hits
}

// Hits returns the hit count of one line.
func (r *Report) Hits(file string, line int) int {
	return r.Files[file][line]
}

// FileNames returns the covered files, sorted.
func (r *Report) FileNames() []string {
	names := make([]string, 0, len(r.Files))
	for name := range r.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary counts instrumented and hit lines.
type Summary struct {
	Files        int     `json:"files"`
	Lines        int     `json:"lines"`
	CoveredLines int     `json:"covered_lines"`
	Percent      float64 `json:"percent"`
}

// Summary computes line coverage over the report.
func (r *Report) Summary() Summary {
	s := Summary{Files: len(r.Files)}
	for _, lines := range r.Files {
		for _, hits := range lines {
			s.Lines++
			if hits > 0 {
				s.CoveredLines++
			}
		}
	}
	if s.Lines > 0 {
		s.Percent = 100 * float64(s.CoveredLines) / float64(s.Lines)
	}
	return s
}

// Merge combines reports: the union of files and lines with hit counts
// summed. Nil reports are skipped; the incomplete markers carry over.
func Merge(reports ...*Report) *Report {
	out := NewReport()
	missing := map[string]bool{}
	for _, r := range reports {
		if r == nil {
			continue
		}
		for file, lines := range r.Files {
			for line, hits := range lines {
				out.Add(file, line, hits)
			}
		}
		if r.Incomplete {
			out.Incomplete = true
		}
		for _, id := range r.Missing {
			missing[id] = true
		}
	}
	for id := range missing {
		out.Missing = append(out.Missing, id)
	}
	sort.Strings(out.Missing)
	return out
}
