package pipeline

// JobResult is the outcome of one matrix job.
//
// It is emitted by the scheduler and consumed by the engine during streaming
// run execution. Failed means a fail-fast phase step failed (exit 1);
// Errored covers service bring-up problems and after_success failures, which
// only make the run partial (exit 2).
type JobResult struct {
	Job     string
	Failed  bool
	Errored bool
}
