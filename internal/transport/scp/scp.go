package scp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/DiskTrackTed/transferarr-sub001/internal/logctx"
	"github.com/DiskTrackTed/transferarr-sub001/internal/transport"
	"github.com/kballard/go-shellquote"
)

// Transport copies files to the seedbox by shelling out to scp. Batch mode is
// forced so a missing host key or password prompt fails fast instead of
// hanging the orchestration loop.
type Transport struct {
	Host         string
	Port         int
	User         string
	IdentityFile string

	binary string
}

func New(host string, port int, user, identityFile string) *Transport {
	return &Transport{
		Host:         host,
		Port:         port,
		User:         user,
		IdentityFile: identityFile,
		binary:       "scp",
	}
}

func (t *Transport) Send(ctx context.Context, localPath, remotePath string, recursive bool, onProgress transport.ProgressFunc) error {
	logger := logctx.LoggerFromContext(ctx)

	args := t.buildArgs(localPath, remotePath, recursive)
	logger.Debug("running transfer command", "cmd", shellquote.Join(append([]string{t.binary}, args...)...))

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &transport.SendError{
			LocalPath:  localPath,
			RemotePath: remotePath,
			Output:     stderr.String(),
			Err:        err,
		}
	}

	if onProgress != nil {
		size, err := pathSize(localPath)
		if err != nil {
			logger.Warn("failed to size transferred path", "path", localPath, "err", err)
		} else {
			onProgress(size)
		}
	}

	return nil
}

func (t *Transport) buildArgs(localPath, remotePath string, recursive bool) []string {
	args := []string{"-B"}

	if t.Port != 0 {
		args = append(args, "-P", strconv.Itoa(t.Port))
	}

	if t.IdentityFile != "" {
		args = append(args, "-i", t.IdentityFile)
	}

	if recursive {
		args = append(args, "-r")
	}

	target := fmt.Sprintf("%s:%s", t.Host, remotePath)
	if t.User != "" {
		target = fmt.Sprintf("%s@%s", t.User, target)
	}

	return append(args, localPath, target)
}

// pathSize totals the bytes under a file or directory; scp reports nothing
// machine-readable, so progress is one terminal callback per path.
func pathSize(path string) (int64, error) {
	var total int64

	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			total += info.Size()
		}

		return nil
	})

	return total, err
}
