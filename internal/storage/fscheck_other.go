//go:build !darwin && !linux

package storage

// detectFilesystemType has no statfs equivalent to consult here; callers
// treat errDetectUnsupported as a pass.
func detectFilesystemType(string) (string, error) {
	return "", errDetectUnsupported
}
