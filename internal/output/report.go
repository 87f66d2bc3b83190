package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

type ReportSink struct {
	path         string
	file         *os.File
	mu           sync.Mutex
	results      []StepResult
	jobs         map[string]struct{}
	exitCode     int
	haveExitCode bool
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{
		path: path,
		file: f,
		jobs: make(map[string]struct{}),
	}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case StepResult:
		s.results = append(s.results, t)
		if t.Job != "" {
			s.jobs[t.Job] = struct{}{}
		}
	case Event:
		if t.Job != "" {
			s.jobs[t.Job] = struct{}{}
		}
		if t.Type == "run.finished" {
			s.exitCode = t.ExitCode
			s.haveExitCode = true
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeErr := func(err error) error {
		_ = s.file.Close()
		return err
	}

	// Deterministic job list (collected from both lifecycle events and results via Write()).
	var jobs []string
	for job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)

	perJob := make(map[string]*jobStats)
	for _, job := range jobs {
		perJob[job] = &jobStats{Job: job}
	}

	var fails, errs, retried []StepResult
	for _, r := range s.results {
		if r.Job != "" {
			if _, ok := perJob[r.Job]; !ok {
				perJob[r.Job] = &jobStats{Job: r.Job}
			}
			perJob[r.Job].count(r)
		}
		switch r.Status {
		case StatusFailed:
			fails = append(fails, r)
		case StatusError:
			errs = append(errs, r)
		}
		if r.Status == StatusOK && r.Attempts > 1 {
			retried = append(retried, r)
		}
	}

	var b strings.Builder
	b.WriteString("# Plumerun Run Report\n\n")

	// Verdict first: failed steps are what a reader opens the report for.
	b.WriteString("## Summary\n\n")
	switch {
	case s.haveExitCode && s.exitCode == 0:
		b.WriteString("Run succeeded.\n\n")
	case s.haveExitCode:
		b.WriteString(fmt.Sprintf("Run finished with exit code %d.\n\n", s.exitCode))
	default:
		b.WriteString("Run did not record a final exit code; it may have been interrupted.\n\n")
	}

	b.WriteString("## Jobs\n\n")
	if len(perJob) == 0 {
		b.WriteString("No jobs ran.\n\n")
	} else {
		b.WriteString("| Job | OK | FAILED | SKIPPED | ERROR |\n")
		b.WriteString("| --- | ---: | ---: | ---: | ---: |\n")
		for _, job := range jobs {
			js := perJob[job]
			b.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d |\n", js.Job, js.OK, js.Failed, js.Skipped, js.Error))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Failed steps\n\n")
	if len(fails) == 0 {
		b.WriteString("- None\n\n")
	} else {
		for _, r := range fails {
			b.WriteString(fmt.Sprintf("- **%s %s: %s**", r.Job, r.Phase, r.Step))
			if r.Attempts > 1 {
				b.WriteString(fmt.Sprintf(" after %d attempts", r.Attempts))
			}
			if r.Message != "" {
				b.WriteString(fmt.Sprintf(": %s", r.Message))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Errors\n\n")
	if len(errs) == 0 {
		b.WriteString("- None\n\n")
	} else {
		for _, r := range errs {
			b.WriteString(fmt.Sprintf("- **%s %s: %s**", r.Job, r.Phase, r.Step))
			if r.Message != "" {
				b.WriteString(fmt.Sprintf(": %s", r.Message))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	// Steps that only passed thanks to retries point at flaky installs or
	// mirrors worth pinning.
	b.WriteString("## Retried steps\n\n")
	if len(retried) == 0 {
		b.WriteString("- None\n\n")
	} else {
		for _, r := range retried {
			b.WriteString(fmt.Sprintf("- %s %s: %s (%d attempts)\n", r.Job, r.Phase, r.Step, r.Attempts))
		}
		b.WriteString("\n")
	}

	if _, err := s.file.WriteString(b.String()); err != nil {
		return writeErr(err)
	}
	return s.file.Close()
}
