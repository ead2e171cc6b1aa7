//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// f_type values statfs(2) reports for remote mounts. Anything else is
// returned as its hex magic and treated as local.
var linuxRemoteMagics = map[uint32]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x01021997: "9p",
	0x65735546: "fuse",
}

func detectFilesystemType(dir string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	// The magic is 32 bits; the field width varies by architecture.
	magic := uint32(st.Type)
	if name, ok := linuxRemoteMagics[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("%#x", magic), nil
}
