package mount

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/DiskTrackTed/transferarr-sub001/internal/logctx"
	"github.com/DiskTrackTed/transferarr-sub001/internal/transport"
	"github.com/DiskTrackTed/transferarr-sub001/internal/transport/progress"
	"github.com/dustin/go-humanize"
)

const (
	dirPerm = 0o755

	// reportInterval is how many bytes flow between progress callbacks.
	reportInterval = int64(64 * 1024 * 1024)
)

// Transport copies content onto a locally mounted view of the seedbox
// filesystem (NFS, sshfs and friends). Remote paths are resolved under the
// mount root.
type Transport struct {
	Root string
}

func New(root string) *Transport {
	return &Transport{Root: root}
}

func (t *Transport) Send(ctx context.Context, localPath, remotePath string, recursive bool, onProgress transport.ProgressFunc) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return &transport.SendError{LocalPath: localPath, RemotePath: remotePath, Err: err}
	}

	target := filepath.Join(t.Root, remotePath)

	if info.IsDir() {
		if !recursive {
			return &transport.SendError{
				LocalPath:  localPath,
				RemotePath: remotePath,
				Err:        fmt.Errorf("%s is a directory and recursive transfer was not requested", localPath),
			}
		}

		return t.sendDir(ctx, localPath, target, onProgress)
	}

	var sent int64

	return t.sendFile(ctx, localPath, target, info.Size(), &sent, onProgress)
}

func (t *Transport) sendDir(ctx context.Context, localDir, targetDir string, onProgress transport.ProgressFunc) error {
	var sent int64

	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}

		target := filepath.Join(targetDir, rel)

		if info.IsDir() {
			return os.MkdirAll(target, dirPerm)
		}

		return t.sendFile(ctx, path, target, info.Size(), &sent, onProgress)
	})
}

func (t *Transport) sendFile(ctx context.Context, localPath, targetPath string, size int64, sent *int64, onProgress transport.ProgressFunc) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(filepath.Dir(targetPath), dirPerm); err != nil {
		return &transport.SendError{LocalPath: localPath, RemotePath: targetPath, Err: err}
	}

	in, err := os.Open(localPath)
	if err != nil {
		return &transport.SendError{LocalPath: localPath, RemotePath: targetPath, Err: err}
	}
	defer in.Close()

	out, err := os.Create(targetPath)
	if err != nil {
		return &transport.SendError{LocalPath: localPath, RemotePath: targetPath, Err: err}
	}
	defer out.Close()

	logger.Debug("copying file", "file", localPath, "size", humanize.Bytes(uint64(size)))

	base := *sent
	reader := progress.NewReader(in, size, reportInterval, func(written, _ int64) {
		*sent = base + written

		if onProgress != nil {
			onProgress(*sent)
		}
	})

	if _, err := io.Copy(out, reader); err != nil {
		return &transport.SendError{LocalPath: localPath, RemotePath: targetPath, Err: err}
	}

	*sent = base + size

	if onProgress != nil {
		onProgress(*sent)
	}

	return nil
}
