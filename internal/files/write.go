package files

import (
	"os"
	"path/filepath"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// writeFile creates parent directories and replaces the target atomically.
// An existing file keeps its permissions.
func writeFile(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.IOFailed("create parent directories", err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}

	staged, err := stage(dir, content, mode)
	if err != nil {
		return apperrors.IOFailed("write file", err)
	}
	if err := os.Rename(staged, target); err != nil {
		os.Remove(staged)
		return apperrors.IOFailed("replace file", err)
	}
	return nil
}

// stage writes content to a hidden sibling file in dir and returns its path.
// Readers never see a half-written target because the caller renames it
// into place.
func stage(dir string, content []byte, mode os.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, ".beacon-write-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	err = f.Chmod(mode)
	if err == nil {
		_, err = f.Write(content)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
