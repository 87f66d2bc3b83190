package output

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit Events (one JSON object per line), including:
// - run.started
// - job.started
// - phase.started
// - step.result
// - job.finished
// - run.finished
//
// JSON mode remains an aggregate of StepResult values.
type Event struct {
	Type  string `json:"type"`
	Job   string `json:"job,omitempty"`
	Phase string `json:"phase,omitempty"`
	*StepResult
	Jobs     int  `json:"jobs,omitempty"`
	Failed   bool `json:"failed,omitempty"`
	ExitCode int  `json:"exit_code,omitempty"`
}

func eventFromResult(r StepResult) Event {
	return Event{Type: "step.result", Job: r.Job, Phase: r.Phase, StepResult: &r}
}
