package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// makeRoot creates a sandbox root with a small tree and returns the sandbox.
func makeRoot(t *testing.T) *Sandbox {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "world", "region"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "server.properties"), []byte("motd=hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	sb, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return sb
}

func TestResolve_Root(t *testing.T) {
	sb := makeRoot(t)
	for _, in := range []string{"", "   ", "/", "//", `\`, ".", "world/.."} {
		p, err := sb.Resolve(in)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", in, err)
		}
		if !p.IsRoot() || p.Abs != sb.Root() {
			t.Errorf("Resolve(%q) = %+v, want root", in, p)
		}
		if p.Name() != "/" {
			t.Errorf("Name() = %q, want /", p.Name())
		}
	}
}

func TestResolve_LeadingSeparatorsStripped(t *testing.T) {
	sb := makeRoot(t)
	p, err := sb.Resolve("///world/region")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if p.Rel != "world/region" {
		t.Errorf("Rel = %q, want world/region", p.Rel)
	}
	if p.Abs != filepath.Join(sb.Root(), "world", "region") {
		t.Errorf("Abs = %q", p.Abs)
	}
}

func TestResolve_TraversalRejected(t *testing.T) {
	sb := makeRoot(t)
	for _, in := range []string{
		"../../etc/passwd",
		"a/../../b",
		"..",
		"world/../../..",
		"/../outside",
	} {
		p, err := sb.Resolve(in)
		if err == nil {
			if !Within(p.Abs, sb.Root()) {
				t.Fatalf("Resolve(%q) returned %q outside the root", in, p.Abs)
			}
			t.Errorf("Resolve(%q) = %q, want escape error", in, p.Abs)
			continue
		}
		if !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
			t.Errorf("Resolve(%q) code = %q, want %q", in, apperrors.GetCode(err), apperrors.CodeSandboxPathEscapesRoot)
		}
	}
}

func TestResolve_InnerTraversalStaysInside(t *testing.T) {
	sb := makeRoot(t)
	p, err := sb.Resolve("world/region/../../server.properties")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if p.Rel != "server.properties" {
		t.Errorf("Rel = %q, want server.properties", p.Rel)
	}
}

func TestResolve_SiblingPrefixRejected(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "srv")
	os.MkdirAll(root, 0755)
	os.MkdirAll(filepath.Join(parent, "srv-other"), 0755)

	sb, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Resolve("../srv-other/x"); !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
		t.Errorf("sibling with shared prefix should escape, got %v", err)
	}
}

func TestResolveExisting_NotFound(t *testing.T) {
	sb := makeRoot(t)
	_, err := sb.ResolveExisting("missing.txt")
	if !apperrors.IsCode(err, apperrors.CodeFileNotFound) {
		t.Errorf("code = %q, want %q", apperrors.GetCode(err), apperrors.CodeFileNotFound)
	}
}

func TestResolveExisting_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	sb := makeRoot(t)
	outside := t.TempDir()
	os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0644)

	if err := os.Symlink(outside, filepath.Join(sb.Root(), "escape")); err != nil {
		t.Fatal(err)
	}

	// Lexically fine, physically outside.
	if _, err := sb.Resolve("escape/secret.txt"); err != nil {
		t.Fatalf("lexical Resolve should pass: %v", err)
	}
	_, err := sb.ResolveExisting("escape/secret.txt")
	if !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
		t.Errorf("code = %q, want %q", apperrors.GetCode(err), apperrors.CodeSandboxPathEscapesRoot)
	}
}

func TestResolveExisting_SymlinkInside(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	sb := makeRoot(t)
	if err := os.Symlink(filepath.Join(sb.Root(), "world"), filepath.Join(sb.Root(), "w")); err != nil {
		t.Fatal(err)
	}
	p, err := sb.ResolveExisting("w/region")
	if err != nil {
		t.Fatalf("ResolveExisting() error: %v", err)
	}
	if p.Rel != "world/region" {
		t.Errorf("Rel = %q, want the real path world/region", p.Rel)
	}
}

func TestResolveForWrite(t *testing.T) {
	sb := makeRoot(t)

	p, err := sb.ResolveForWrite("notes/deep/a.txt")
	if err != nil {
		t.Fatalf("ResolveForWrite() error: %v", err)
	}
	if p.Rel != "notes/deep/a.txt" {
		t.Errorf("Rel = %q", p.Rel)
	}

	if _, err := sb.ResolveForWrite("../x.txt"); !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
		t.Errorf("expected escape error, got %v", err)
	}
}

func TestResolveForWrite_ThroughSymlinkedDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	sb := makeRoot(t)
	outside := t.TempDir()
	os.Symlink(outside, filepath.Join(sb.Root(), "out"))

	_, err := sb.ResolveForWrite("out/new/file.txt")
	if !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
		t.Errorf("code = %q, want %q", apperrors.GetCode(err), apperrors.CodeSandboxPathEscapesRoot)
	}
}

func TestResolveForWrite_DanglingLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	sb := makeRoot(t)
	os.Symlink(filepath.Join(t.TempDir(), "nowhere"), filepath.Join(sb.Root(), "dangling"))

	if _, err := sb.ResolveForWrite("dangling"); !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
		t.Errorf("writing through a dangling link should be refused, got %v", err)
	}
}

func TestNew_NotDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	os.WriteFile(f, nil, 0644)
	if _, err := New(f); err == nil {
		t.Error("New() on a file should fail")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("New() on a missing dir should fail")
	}
}

func TestWithin(t *testing.T) {
	sep := string(filepath.Separator)
	root := sep + "srv"
	tests := []struct {
		candidate string
		want      bool
	}{
		{root, true},
		{root + sep + "a", true},
		{root + "-other", false},
		{sep + "etc", false},
	}
	for _, tt := range tests {
		if got := Within(tt.candidate, root); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.candidate, root, got, tt.want)
		}
	}
}
