package output

type jobStats struct {
	Job     string
	OK      int
	Failed  int
	Skipped int
	Error   int
}

func (j *jobStats) count(r StepResult) {
	switch r.Status {
	case StatusOK:
		j.OK++
	case StatusFailed:
		j.Failed++
	case StatusSkipped:
		j.Skipped++
	case StatusError:
		j.Error++
	}
}
