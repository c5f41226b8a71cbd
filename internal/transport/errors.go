package transport

import "fmt"

// SendError represents a failed copy of one path, carrying enough context to
// finalize the audit record with a useful message.
type SendError struct {
	LocalPath  string
	RemotePath string
	Output     string // stderr or diagnostic output from the transport
	Err        error
}

func (e *SendError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("failed to send %s to %s: %s", e.LocalPath, e.RemotePath, e.Output)
	}

	return fmt.Sprintf("failed to send %s to %s: %v", e.LocalPath, e.RemotePath, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
