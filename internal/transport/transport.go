package transport

import "context"

// ProgressFunc receives the cumulative bytes moved for the current Send call.
type ProgressFunc func(bytes int64)

// Transport moves files or directory trees to the remote host. Implementations
// carry their destination (host, credentials, mount point) from construction.
type Transport interface {
	// Send copies localPath to remotePath. Directories require recursive.
	// onProgress may be nil.
	Send(ctx context.Context, localPath, remotePath string, recursive bool, onProgress ProgressFunc) error
}
