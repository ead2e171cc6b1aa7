//go:build darwin

package storage

import (
	"fmt"
	"strings"
	"syscall"
)

func detectFilesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	var b strings.Builder
	for _, c := range stat.Fstypename {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	name := b.String()
	// macFUSE mounts report e.g. "macfuse" or "osxfuse".
	if strings.HasSuffix(name, "fuse") {
		return "fuse", nil
	}
	return name, nil
}
