package output

import "io"

type flusher interface {
	Flush() error
}

// flushIfPossible pushes buffered bytes out after each NDJSON line so
// consumers tailing the stream see events as they happen.
func flushIfPossible(w io.Writer) error {
	f, ok := w.(flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}
