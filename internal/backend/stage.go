package backend

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// StageDir is the directory under the data directory that receives the
// staged binary.
const StageDir = "backend"

// Stage copies the bundled binary for p out of bundle into
// {dataDir}/backend/, replacing any previous copy, and makes it executable.
// It returns the staged path.
func Stage(bundle fs.FS, dataDir string, p Platform) (string, error) {
	name := p.BinaryName()
	src, err := bundle.Open(name)
	if err != nil {
		return "", apperrors.BinaryMissing(name, err)
	}
	defer src.Close()

	dir := filepath.Join(dataDir, StageDir)
	target := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.StageFailed(target, err)
	}

	tmp, err := os.CreateTemp(dir, ".stage-*")
	if err != nil {
		return "", apperrors.StageFailed(target, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", apperrors.StageFailed(target, err)
	}
	if err := tmp.Close(); err != nil {
		return "", apperrors.StageFailed(target, err)
	}

	// Windows refuses to rename over an existing file.
	if p.OS == "windows" {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", apperrors.StageFailed(target, err)
		}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", apperrors.StageFailed(target, err)
	}
	tmpPath = ""

	if err := EnsureExecutable(target, p); err != nil {
		return "", err
	}
	return target, nil
}

// EnsureExecutable sets 0755 on non-windows platforms and verifies the
// owner execute bit actually took effect.
func EnsureExecutable(path string, p Platform) error {
	if p.OS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return apperrors.ChmodFailed(path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.ChmodFailed(path, err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		return apperrors.ChmodFailed(path, errors.New("execute bit not set"))
	}
	return nil
}
