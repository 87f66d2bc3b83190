package coverage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Profile is a parsed coverage profile in the Go cover format:
//
//	mode: set
//	pkg/file.go:12.34,16.2 3 1
//
// Each block line is name.go:startLine.startCol,endLine.endCol numStmt count.
type Profile struct {
	Mode  string
	Files []FileCoverage
}

type FileCoverage struct {
	Name   string
	Blocks []Block
}

type Block struct {
	StartLine, StartCol int
	EndLine, EndCol     int
	NumStmt             int
	Count               int
}

// LineRange is an inclusive range of uncovered lines.
type LineRange struct {
	Start, End int
}

func (r LineRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParseFile reads and parses a coverage profile from disk.
func ParseFile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coverage profile: %w", err)
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse coverage profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a coverage profile. Files come back sorted by name with
// blocks sorted by position.
func Parse(r io.Reader) (*Profile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	p := &Profile{}
	byName := make(map[string]*FileCoverage)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if mode, ok := strings.CutPrefix(line, "mode:"); ok {
			p.Mode = strings.TrimSpace(mode)
			continue
		}
		if p.Mode == "" {
			return nil, fmt.Errorf("line %d: block before mode header", lineNo)
		}

		name, block, err := parseBlockLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		fc, ok := byName[name]
		if !ok {
			fc = &FileCoverage{Name: name}
			byName[name] = fc
		}
		fc.Blocks = append(fc.Blocks, block)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if p.Mode == "" {
		return nil, fmt.Errorf("missing mode header")
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fc := byName[name]
		sort.Slice(fc.Blocks, func(i, j int) bool {
			if fc.Blocks[i].StartLine != fc.Blocks[j].StartLine {
				return fc.Blocks[i].StartLine < fc.Blocks[j].StartLine
			}
			return fc.Blocks[i].StartCol < fc.Blocks[j].StartCol
		})
		p.Files = append(p.Files, *fc)
	}
	return p, nil
}

func parseBlockLine(line string) (string, Block, error) {
	name, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", Block{}, fmt.Errorf("malformed block line %q", line)
	}

	var b Block
	n, err := fmt.Sscanf(rest, "%d.%d,%d.%d %d %d",
		&b.StartLine, &b.StartCol, &b.EndLine, &b.EndCol, &b.NumStmt, &b.Count)
	if err != nil || n != 6 {
		return "", Block{}, fmt.Errorf("malformed block line %q", line)
	}
	if b.StartLine <= 0 || b.EndLine < b.StartLine || b.NumStmt < 0 || b.Count < 0 {
		return "", Block{}, fmt.Errorf("implausible block %q", line)
	}
	return name, b, nil
}

// Statements returns (covered, total) statement counts.
func (f FileCoverage) Statements() (covered, total int) {
	for _, b := range f.Blocks {
		total += b.NumStmt
		if b.Count > 0 {
			covered += b.NumStmt
		}
	}
	return covered, total
}

// Percent is statement coverage for one file, 0-100.
func (f FileCoverage) Percent() float64 {
	covered, total := f.Statements()
	if total == 0 {
		return 100
	}
	return float64(covered) / float64(total) * 100
}

// MissedRanges merges the uncovered blocks into line ranges, the shape of a
// "lines missed" terminal report.
func (f FileCoverage) MissedRanges() []LineRange {
	var ranges []LineRange
	for _, b := range f.Blocks {
		if b.Count > 0 {
			continue
		}
		if n := len(ranges); n > 0 && b.StartLine <= ranges[n-1].End+1 {
			if b.EndLine > ranges[n-1].End {
				ranges[n-1].End = b.EndLine
			}
			continue
		}
		ranges = append(ranges, LineRange{Start: b.StartLine, End: b.EndLine})
	}
	return ranges
}

// Percent is overall statement coverage, 0-100.
func (p *Profile) Percent() float64 {
	var covered, total int
	for _, f := range p.Files {
		c, t := f.Statements()
		covered += c
		total += t
	}
	if total == 0 {
		return 100
	}
	return float64(covered) / float64(total) * 100
}
