package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrRemoteFilesystem is wrapped when a channel path sits on a remote mount.
// fsnotify sees no writes made by other hosts there, and SQLite byte-range
// locks are not honored.
var ErrRemoteFilesystem = errors.New("remote filesystem")

var errDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")

// remoteFilesystems are the names detectFilesystemType reports for mounts a
// channel cannot live on.
var remoteFilesystems = []string{"9p", "afpfs", "cifs", "fuse", "nfs", "smb2", "smbfs", "webdav"}

// ValidateLocalFilesystem fails when path, or the closest ancestor of it that
// exists, is on a remote filesystem. what labels the path in errors. Platforms
// without detection always pass.
func ValidateLocalFilesystem(path, what string) error {
	return validateLocalFilesystemWithDetector(path, what, detectFilesystemType)
}

func validateLocalFilesystemWithDetector(path, what string, detect func(dir string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", what)
	}

	anchor, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("%s %q: %w", what, path, err)
	}

	kind, err := detect(anchor)
	switch {
	case errors.Is(err, errDetectUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("%s %q: inspect %s: %w", what, path, anchor, err)
	case !isRemoteFilesystem(kind):
		return nil
	}

	return fmt.Errorf("%s %q is on %s (%w); set channel.path or TRACETAP_CHANNEL_PATH to a local directory",
		what, path, kind, ErrRemoteFilesystem)
}

// existingAncestor returns the absolute form of path if it exists, otherwise
// its deepest existing parent. Channels are created lazily, so the mount is
// judged by where they will be created.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	for {
		_, statErr := os.Stat(dir)
		switch {
		case statErr == nil:
			return dir, nil
		case !errors.Is(statErr, os.ErrNotExist):
			return "", statErr
		}

		up := filepath.Dir(dir)
		if up == dir {
			return "", fmt.Errorf("no ancestor of %s exists", path)
		}
		dir = up
	}
}

func isRemoteFilesystem(kind string) bool {
	return slices.Contains(remoteFilesystems, strings.ToLower(strings.TrimSpace(kind)))
}
