package coverage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Format names a serialisation of a Report.
type Format string

const (
	FormatJSON Format = "json"
	FormatLCOV Format = "lcov"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatLCOV, "info":
		return FormatLCOV, nil
	}
	return "", fmt.Errorf("unknown coverage format %q", s)
}

// FormatForPath guesses the format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".info", ".lcov":
		return FormatLCOV
	}
	return FormatJSON
}

// ReadFile loads a report, detecting the format from the content.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes JSON ({"files": {...}} or the bare file map) or LCOV.
func Parse(data []byte) (*Report, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return parseJSON(trimmed)
	}
	return parseLCOV(bytes.NewReader(data))
}

type jsonReport struct {
	Files      map[string]map[string]int `json:"files"`
	Incomplete bool                      `json:"incomplete"`
	Missing    []string                  `json:"missing"`
}

func parseJSON(data []byte) (*Report, error) {
	var wrapped jsonReport
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Files != nil {
		r, err := fromStringLines(wrapped.Files)
		if err != nil {
			return nil, err
		}
		r.Incomplete = wrapped.Incomplete || len(wrapped.Missing) > 0
		r.Missing = wrapped.Missing
		return r, nil
	}
	var bare map[string]map[string]int
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("decode coverage JSON: %w", err)
	}
	return fromStringLines(bare)
}

func fromStringLines(files map[string]map[string]int) (*Report, error) {
	r := NewReport()
	for file, lines := range files {
		if _, ok := r.Files[file]; !ok {
			r.Files[file] = make(map[int]int)
		}
		for key, hits := range lines {
			line, err := strconv.Atoi(key)
			if err != nil || line < 1 {
				return nil, fmt.Errorf("file %s: invalid line number %q", file, key)
			}
			if hits < 0 {
				return nil, fmt.Errorf("file %s: negative hit count on line %d", file, line)
			}
			r.Add(file, line, hits)
		}
	}
	return r, nil
}

func parseLCOV(in io.Reader) (*Report, error) {
	r := NewReport()
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	file := ""
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "SF:"):
			file = strings.TrimPrefix(line, "SF:")
			if _, ok := r.Files[file]; !ok {
				r.Files[file] = make(map[int]int)
			}
		case strings.HasPrefix(line, "DA:"):
			if file == "" {
				return nil, fmt.Errorf("lcov line %d: DA record outside SF", n)
			}
			parts := strings.Split(strings.TrimPrefix(line, "DA:"), ",")
			if len(parts) < 2 {
				return nil, fmt.Errorf("lcov line %d: malformed DA record", n)
			}
			ln, err1 := strconv.Atoi(parts[0])
			hits, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil || ln < 1 || hits < 0 {
				return nil, fmt.Errorf("lcov line %d: malformed DA record", n)
			}
			r.Add(file, ln, hits)
		case line == "end_of_record":
			file = ""
		case strings.HasPrefix(line, "TN:"), strings.Contains(line, ":"):
			// other records (FN, BRDA, LF, LH, ...) carry no line hits
		default:
			return nil, fmt.Errorf("lcov line %d: unrecognised record %q", n, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("empty coverage input")
	}
	return r, nil
}

// Write serialises r in format f.
func Write(w io.Writer, r *Report, f Format) error {
	switch f {
	case FormatLCOV:
		return writeLCOV(w, r)
	case FormatJSON, "":
		return writeJSON(w, r)
	}
	return fmt.Errorf("unknown coverage format %q", f)
}

// WriteFile writes r to path, creating parent directories.
func WriteFile(path string, r *Report, f Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(out, r, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type jsonOutput struct {
	Files      map[string]map[string]int `json:"files"`
	Incomplete bool                      `json:"incomplete,omitempty"`
	Missing    []string                  `json:"missing,omitempty"`
}

func writeJSON(w io.Writer, r *Report) error {
	out := jsonOutput{
		Files:      make(map[string]map[string]int, len(r.Files)),
		Incomplete: r.Incomplete,
		Missing:    r.Missing,
	}
	for file, lines := range r.Files {
		m := make(map[string]int, len(lines))
		for line, hits := range lines {
			m[strconv.Itoa(line)] = hits
		}
		out.Files[file] = m
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeLCOV(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)
	for _, file := range r.FileNames() {
		lines := r.Files[file]
		nums := make([]int, 0, len(lines))
		for ln := range lines {
			nums = append(nums, ln)
		}
		sort.Ints(nums)

		hit := 0
		fmt.Fprintf(bw, "SF:%s\n", file)
		for _, ln := range nums {
			if lines[ln] > 0 {
				hit++
			}
			fmt.Fprintf(bw, "DA:%d,%d\n", ln, lines[ln])
		}
		fmt.Fprintf(bw, "LF:%d\nLH:%d\nend_of_record\n", len(nums), hit)
	}
	return bw.Flush()
}
