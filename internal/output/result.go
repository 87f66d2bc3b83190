package output

type Status string

const (
	StatusOK      Status = "OK"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// StepResult is the record streamed to sinks for every step the engine ran
// (or skipped). Attempts counts executions including retries; a step that
// needed the retry budget still reports OK with Attempts > 1.
type StepResult struct {
	Job      string  `json:"job"`
	Phase    string  `json:"phase"`
	Step     string  `json:"step"`
	Status   Status  `json:"status"`
	Attempts int     `json:"attempts,omitempty"`
	Duration float64 `json:"duration_s,omitempty"`
	Message  string  `json:"message,omitempty"`
}
