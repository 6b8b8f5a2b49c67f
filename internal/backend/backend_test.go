package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

func TestResolvePlatform(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"linux", "amd64", "beacon-backend-linux-amd64", false},
		{"linux", "arm64", "beacon-backend-linux-arm64", false},
		{"darwin", "arm64", "beacon-backend-darwin-arm64", false},
		{"windows", "amd64", "beacon-backend-windows-amd64.exe", false},
		{"freebsd", "amd64", "", true},
		{"linux", "386", "", true},
		{"plan9", "riscv64", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			p, err := ResolvePlatform(tt.goos, tt.goarch)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.CodeProcessUnsupportedPlatform))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.BinaryName())
		})
	}
}

func TestStage(t *testing.T) {
	p := Platform{OS: "linux", Arch: "amd64"}
	bundle := fstest.MapFS{
		p.BinaryName(): {Data: []byte("v1"), Mode: 0o644},
	}
	dataDir := t.TempDir()

	path, err := Stage(bundle, dataDir, p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "backend", "beacon-backend-linux-amd64"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "staged binary must be executable")

	// Restaging overwrites the previous copy.
	bundle[p.BinaryName()] = &fstest.MapFile{Data: []byte("v2")}
	_, err = Stage(bundle, dataDir, p)
	require.NoError(t, err)
	data, _ = os.ReadFile(path)
	assert.Equal(t, "v2", string(data))

	entries, _ := os.ReadDir(filepath.Join(dataDir, "backend"))
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStage_Missing(t *testing.T) {
	_, err := Stage(fstest.MapFS{}, t.TempDir(), Platform{OS: "darwin", Arch: "arm64"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProcessBinaryMissing))
}

func TestEnsureExecutable_WindowsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.exe")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, EnsureExecutable(path, Platform{OS: "windows", Arch: "amd64"}))
	info, _ := os.Stat(path)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestManager_StartFailsWithoutBundle(t *testing.T) {
	m := NewManager(Options{DataDir: t.TempDir(), Platform: &Platform{OS: "linux", Arch: "amd64"}})
	assert.False(t, m.Start())
	assert.False(t, m.IsRunning())
	m.Stop()
}

func TestManager_UnsupportedPlatform(t *testing.T) {
	m := NewManager(Options{
		DataDir:  t.TempDir(),
		Bundle:   fstest.MapFS{},
		Platform: &Platform{OS: "solaris", Arch: "sparc64"},
	})
	assert.False(t, m.Start())
}

func TestPumpLines(t *testing.T) {
	var got []string
	pumpLines(strings.NewReader("first\r\n\nsecond\n  \nbad \xff byte\npartial"), func(l string) {
		got = append(got, l)
	})
	assert.Equal(t, []string{"first", "second", "bad � byte", "partial"}, got)
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)
	assert.Empty(t, rb.Lines())
	for _, l := range []string{"a", "b"} {
		rb.Write(l)
	}
	assert.Equal(t, []string{"a", "b"}, rb.Lines())
	for _, l := range []string{"c", "d", "e"} {
		rb.Write(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, rb.Lines())
	assert.Equal(t, 3, rb.Size())

	rb.Reset()
	assert.Zero(t, rb.Size())
	rb.Write("f")
	assert.Equal(t, []string{"f"}, rb.Lines())

	assert.Len(t, NewRingBuffer(0).lines, DefaultTailLines)
}
