package coverage

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// WriteReport renders a terminal coverage table. With showMissing, each file
// row ends with the uncovered line ranges, coverage.py term-missing style.
func WriteReport(w io.Writer, p *Profile, showMissing bool) error {
	if p == nil {
		return fmt.Errorf("coverage: profile is nil")
	}

	header := color.New(color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	warn := color.New(color.FgYellow)

	nameWidth := len("TOTAL")
	for _, f := range p.Files {
		if len(f.Name) > nameWidth {
			nameWidth = len(f.Name)
		}
	}

	if _, err := header.Fprintf(w, "%-*s  %6s  %6s  %7s", nameWidth, "Name", "Stmts", "Miss", "Cover"); err != nil {
		return err
	}
	if showMissing {
		if _, err := header.Fprintf(w, "  %s", "Missing"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}

	paint := func(pct float64) *color.Color {
		switch {
		case pct >= 90:
			return good
		case pct >= 60:
			return warn
		default:
			return bad
		}
	}

	for _, f := range p.Files {
		covered, total := f.Statements()
		pct := f.Percent()
		if _, err := fmt.Fprintf(w, "%-*s  %6d  %6d  ", nameWidth, f.Name, total, total-covered); err != nil {
			return err
		}
		if _, err := paint(pct).Fprintf(w, "%6.1f%%", pct); err != nil {
			return err
		}
		if showMissing {
			ranges := f.MissedRanges()
			parts := make([]string, 0, len(ranges))
			for _, r := range ranges {
				parts = append(parts, r.String())
			}
			if _, err := fmt.Fprintf(w, "  %s", strings.Join(parts, ", ")); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	var covered, total int
	for _, f := range p.Files {
		c, t := f.Statements()
		covered += c
		total += t
	}
	pct := p.Percent()
	if _, err := fmt.Fprintf(w, "%-*s  %6d  %6d  ", nameWidth, "TOTAL", total, total-covered); err != nil {
		return err
	}
	if _, err := paint(pct).Fprintf(w, "%6.1f%%", pct); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
