package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Transport copies one source location to a destination path. Output staging
// uses it uniformly regardless of which engine produced the source.
type Transport interface {
	Copy(src, dst string) error
}

// Local copies files on the local filesystem.
type Local struct{}

func (Local) Copy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create dest %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return out.Close()
}

// SSH pulls files from a remote host via scp. Connection is the usual
// user@host string.
type SSH struct {
	Connection string
}

func (s SSH) Copy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}
	out, err := exec.Command("scp", s.Connection+":"+src, dst).CombinedOutput()
	if err != nil {
		return fmt.Errorf("scp %s:%s -> %s: %v (%s)", s.Connection, src, dst, err, string(out))
	}
	return nil
}
