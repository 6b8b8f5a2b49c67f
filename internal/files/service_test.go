package files

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// makeServer creates a fake server root with a few files and returns a
// Service rooted there plus the root path.
func makeServer(t *testing.T, opts ...Option) (*Service, string) {
	t.Helper()
	root := t.TempDir()

	mustMkdir(t, filepath.Join(root, "world", "region"))
	mustMkdir(t, filepath.Join(root, "plugins", "Beacon"))
	mustMkdir(t, filepath.Join(root, "Logs"))
	mustWrite(t, filepath.Join(root, "server.properties"), "motd=A Server\n")
	mustWrite(t, filepath.Join(root, "banned-ips.json"), "[]")
	mustWrite(t, filepath.Join(root, "Zeta.txt"), "z")
	mustWrite(t, filepath.Join(root, "alpha.txt"), "a")

	return NewService(StaticRoot(root), opts...), root
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func gzipBytes(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(content))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMeta_Root(t *testing.T) {
	svc, _ := makeServer(t)

	e, err := svc.Meta("")
	if err != nil {
		t.Fatalf("Meta() error: %v", err)
	}
	if e.Name != "/" || e.Path != "" || !e.IsDir {
		t.Errorf("root meta = %+v", e)
	}
	if e.ModTime == "" {
		t.Error("ModTime should be set")
	}
}

func TestMeta_File(t *testing.T) {
	svc, _ := makeServer(t)

	e, err := svc.Meta("/server.properties")
	if err != nil {
		t.Fatalf("Meta() error: %v", err)
	}
	if e.Name != "server.properties" || e.Path != "server.properties" || e.IsDir {
		t.Errorf("meta = %+v", e)
	}
	if e.Size != int64(len("motd=A Server\n")) {
		t.Errorf("Size = %d", e.Size)
	}
}

func TestMeta_NotFound(t *testing.T) {
	svc, _ := makeServer(t)
	_, err := svc.Meta("nope")
	if !apperrors.IsCode(err, apperrors.CodeFileNotFound) {
		t.Errorf("code = %q, want %q", apperrors.GetCode(err), apperrors.CodeFileNotFound)
	}
}

func TestList_SortsDirsFirstCaseInsensitive(t *testing.T) {
	svc, _ := makeServer(t)

	listing, err := svc.List("")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if listing.Path != "" {
		t.Errorf("Path = %q, want empty for root", listing.Path)
	}

	var names []string
	for _, e := range listing.Entries {
		names = append(names, e.Name)
	}
	want := []string{"Logs", "plugins", "world", "alpha.txt", "banned-ips.json", "server.properties", "Zeta.txt"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestList_Subdirectory(t *testing.T) {
	svc, root := makeServer(t)
	mustWrite(t, filepath.Join(root, "world", "level.dat"), "x")

	listing, err := svc.List("world")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if listing.Path != "world" {
		t.Errorf("Path = %q", listing.Path)
	}
	if len(listing.Entries) != 2 {
		t.Fatalf("entries = %+v", listing.Entries)
	}
	if listing.Entries[0].Path != "world/region" || !listing.Entries[0].IsDir {
		t.Errorf("first entry = %+v", listing.Entries[0])
	}
	if listing.Entries[1].Path != "world/level.dat" {
		t.Errorf("second entry = %+v", listing.Entries[1])
	}
}

func TestList_Errors(t *testing.T) {
	svc, _ := makeServer(t)

	if _, err := svc.List("server.properties"); !apperrors.IsCode(err, apperrors.CodeFileNotDirectory) {
		t.Errorf("list on file: code = %q", apperrors.GetCode(err))
	}
	if _, err := svc.List("missing"); !apperrors.IsCode(err, apperrors.CodeFileNotFound) {
		t.Errorf("list on missing: code = %q", apperrors.GetCode(err))
	}
	if _, err := svc.List("../.."); !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
		t.Errorf("list escape: code = %q", apperrors.GetCode(err))
	}
}

func TestWriteReadText_RoundTrip(t *testing.T) {
	svc, root := makeServer(t)

	content := "hello\nworld"
	if _, err := svc.WriteText("notes/a.txt", content); err != nil {
		t.Fatalf("WriteText() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "notes")); err != nil {
		t.Fatalf("parent dir not created: %v", err)
	}

	tf, err := svc.ReadText("notes/a.txt")
	if err != nil {
		t.Fatalf("ReadText() error: %v", err)
	}
	if tf.Content != content {
		t.Errorf("Content = %q, want %q", tf.Content, content)
	}
	if tf.Size != len([]byte(content)) || tf.Size != 11 {
		t.Errorf("Size = %d, want 11", tf.Size)
	}
	if tf.Name != "a.txt" || tf.Path != "notes/a.txt" {
		t.Errorf("Name/Path = %q/%q", tf.Name, tf.Path)
	}
}

func TestWriteText_PreservesPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	svc, root := makeServer(t)
	target := filepath.Join(root, "start.sh")
	mustWrite(t, target, "#!/bin/sh\n")
	os.Chmod(target, 0750)

	if _, err := svc.WriteText("start.sh", "#!/bin/sh\necho hi\n"); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(target)
	if info.Mode().Perm() != 0750 {
		t.Errorf("perm = %v, want 0750", info.Mode().Perm())
	}
}

func TestWriteText_Refusals(t *testing.T) {
	svc, _ := makeServer(t)

	if _, err := svc.WriteText("world", "x"); !apperrors.IsCode(err, apperrors.CodeFileIsDirectory) {
		t.Errorf("write to dir: code = %q", apperrors.GetCode(err))
	}
	if _, err := svc.WriteText("", "x"); !apperrors.IsCode(err, apperrors.CodeFileIsDirectory) {
		t.Errorf("write to root: code = %q", apperrors.GetCode(err))
	}
	if _, err := svc.WriteText("logs/latest.log.GZ", "x"); !apperrors.IsCode(err, apperrors.CodeFileUnsupportedFormat) {
		t.Errorf("write gz: code = %q", apperrors.GetCode(err))
	}
	if _, err := svc.WriteText("../escape.txt", "x"); !apperrors.IsCode(err, apperrors.CodeSandboxPathEscapesRoot) {
		t.Errorf("write escape: code = %q", apperrors.GetCode(err))
	}
}

func TestReadText_Gzip(t *testing.T) {
	svc, root := makeServer(t)
	if err := os.WriteFile(filepath.Join(root, "Logs", "2024-01-01-1.log.gz"), gzipBytes(t, "line one\nline two\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tf, err := svc.ReadText("Logs/2024-01-01-1.log.gz")
	if err != nil {
		t.Fatalf("ReadText() error: %v", err)
	}
	if tf.Content != "line one\nline two\n" {
		t.Errorf("Content = %q", tf.Content)
	}
	if tf.Size != len("line one\nline two\n") {
		t.Errorf("Size = %d, want decompressed length", tf.Size)
	}
}

func TestReadText_Errors(t *testing.T) {
	svc, root := makeServer(t)
	os.WriteFile(filepath.Join(root, "level.dat"), []byte{0xff, 0xfe, 0x00, 0x80}, 0644)

	if _, err := svc.ReadText("level.dat"); !apperrors.IsCode(err, apperrors.CodeFileInvalidUTF8) {
		t.Errorf("binary: code = %q", apperrors.GetCode(err))
	}
	if _, err := svc.ReadText("world"); !apperrors.IsCode(err, apperrors.CodeFileIsDirectory) {
		t.Errorf("dir: code = %q", apperrors.GetCode(err))
	}
	if _, err := svc.ReadText("missing.txt"); !apperrors.IsCode(err, apperrors.CodeFileNotFound) {
		t.Errorf("missing: code = %q", apperrors.GetCode(err))
	}
}

func TestReadText_Cap(t *testing.T) {
	svc, root := makeServer(t, WithReadCap(8))
	mustWrite(t, filepath.Join(root, "big.txt"), "0123456789")
	if _, err := svc.ReadText("big.txt"); !apperrors.IsCode(err, apperrors.CodeFileTooLarge) {
		t.Errorf("code = %q, want %q", apperrors.GetCode(err), apperrors.CodeFileTooLarge)
	}

	// Compressed size is under the cap, decompressed is not.
	os.WriteFile(filepath.Join(root, "big.log.gz"), gzipBytes(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 0644)
	svc2 := NewService(StaticRoot(root), WithReadCap(30))
	if _, err := svc2.ReadText("big.log.gz"); !apperrors.IsCode(err, apperrors.CodeFileTooLarge) {
		t.Errorf("gz code = %q, want %q", apperrors.GetCode(err), apperrors.CodeFileTooLarge)
	}
}

func TestWriteBinary(t *testing.T) {
	svc, root := makeServer(t)
	raw := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}

	if _, err := svc.WriteBinary("icons/server-icon.png", base64.StdEncoding.EncodeToString(raw)); err != nil {
		t.Fatalf("WriteBinary() error: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "icons", "server-icon.png"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("content = %v, want %v", got, raw)
	}

	if _, err := svc.WriteBinary("x.bin", "!!not base64!!"); !apperrors.IsCode(err, apperrors.CodeFileBadEncoding) {
		t.Errorf("bad base64: code = %q", apperrors.GetCode(err))
	}
	if _, err := os.Stat(filepath.Join(root, "x.bin")); !os.IsNotExist(err) {
		t.Error("bad base64 should not create the file")
	}
	if _, err := svc.WriteBinary("world", "AA=="); !apperrors.IsCode(err, apperrors.CodeFileIsDirectory) {
		t.Errorf("dir: code = %q", apperrors.GetCode(err))
	}
}

func TestCreateDir(t *testing.T) {
	svc, root := makeServer(t)

	if _, err := svc.CreateDir("a/b/c"); err != nil {
		t.Fatalf("CreateDir() error: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	// Existing directory is fine.
	if _, err := svc.CreateDir("a/b"); err != nil {
		t.Errorf("CreateDir() on existing dir error: %v", err)
	}
	if _, err := svc.CreateDir("server.properties"); !apperrors.IsCode(err, apperrors.CodeFileNotDirectory) {
		t.Errorf("over file: code = %q", apperrors.GetCode(err))
	}
}

func TestDelete(t *testing.T) {
	svc, root := makeServer(t)
	mustWrite(t, filepath.Join(root, "world", "region", "r.0.0.mca"), "x")

	if _, err := svc.Delete("world"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "world")); !os.IsNotExist(err) {
		t.Error("world should be gone")
	}

	if _, err := svc.Delete("world"); !apperrors.IsCode(err, apperrors.CodeFileNotFound) {
		t.Errorf("second delete: code = %q", apperrors.GetCode(err))
	}
}

func TestDelete_RootIsUndeletable(t *testing.T) {
	svc, root := makeServer(t)

	for _, in := range []string{"", "/", ".", "world/..", "  "} {
		_, err := svc.Delete(in)
		if !apperrors.IsCode(err, apperrors.CodeFileIsRoot) {
			t.Errorf("Delete(%q) code = %q, want %q", in, apperrors.GetCode(err), apperrors.CodeFileIsRoot)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "server.properties")); err != nil {
		t.Error("root contents must survive")
	}
}

func TestDelete_SymlinkRemovesLinkOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	svc, root := makeServer(t)
	outside := t.TempDir()
	mustWrite(t, filepath.Join(outside, "keep.txt"), "keep")
	os.Symlink(outside, filepath.Join(root, "backups"))

	if _, err := svc.Delete("backups"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(root, "backups")); !os.IsNotExist(err) {
		t.Error("link should be removed")
	}
	if _, err := os.Stat(filepath.Join(outside, "keep.txt")); err != nil {
		t.Error("link target must survive")
	}
}

func TestList_SymlinksLeavingRootAreNotFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	svc, root := makeServer(t)
	outside := t.TempDir()
	mustWrite(t, filepath.Join(outside, "secret.txt"), "0123456789")
	os.Symlink(outside, filepath.Join(root, "escape-dir"))
	os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "escape-file"))
	os.Symlink(filepath.Join(root, "world"), filepath.Join(root, "world-link"))

	listing, err := svc.List("")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	byName := map[string]Entry{}
	for _, e := range listing.Entries {
		byName[e.Name] = e
	}

	for _, name := range []string{"escape-dir", "escape-file"} {
		e, ok := byName[name]
		if !ok {
			t.Fatalf("%s missing from listing", name)
		}
		if e.IsDir {
			t.Errorf("%s: IsDir = true, target outside the root must not be described", name)
		}
		if e.Size == 10 {
			t.Errorf("%s: Size = %d leaks the outside file's size", name, e.Size)
		}
	}
	if !byName["world-link"].IsDir {
		t.Error("a link to a directory inside the root lists as a directory")
	}
}

func TestDownload(t *testing.T) {
	svc, _ := makeServer(t)

	d, err := svc.Download("server.properties")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if d.FileName != "server.properties" {
		t.Errorf("FileName = %q", d.FileName)
	}
	raw, _ := base64.StdEncoding.DecodeString(d.ContentBase64)
	if string(raw) != "motd=A Server\n" {
		t.Errorf("content = %q", raw)
	}

	if _, err := svc.Download("world"); !apperrors.IsCode(err, apperrors.CodeFileIsDirectory) {
		t.Errorf("dir: code = %q", apperrors.GetCode(err))
	}
}

type memAuditor struct {
	mu   sync.Mutex
	recs []AuditRecord
	err  error
}

func (m *memAuditor) RecordFileAction(_ context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

func TestPerform_UniformResult(t *testing.T) {
	audit := &memAuditor{}
	svc, _ := makeServer(t, WithAuditor(audit))
	ctx := context.Background()

	res := svc.Perform(ctx, Request{RequestID: "r1", Action: ActionList, Path: ""})
	if !res.OK || res.Error != "" {
		t.Fatalf("list result = %+v", res)
	}
	if _, ok := res.Data.(Listing); !ok {
		t.Errorf("Data type = %T, want Listing", res.Data)
	}

	res = svc.Perform(ctx, Request{RequestID: "r2", Action: ActionDelete, Path: ""})
	if res.OK || res.Error != "cannot delete server root directory" || res.Code != apperrors.CodeFileIsRoot {
		t.Errorf("delete root result = %+v", res)
	}
	if res.Data != nil {
		t.Errorf("failed result should carry no data, got %#v", res.Data)
	}

	res = svc.Perform(ctx, Request{RequestID: "r3", Action: "chmod", Path: "x"})
	if res.OK || res.Code != apperrors.CodeFileUnsupportedAction {
		t.Errorf("unknown action result = %+v", res)
	}

	// Only the mutating delete was audited.
	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.recs) != 1 || audit.recs[0].RequestID != "r2" || audit.recs[0].OK {
		t.Errorf("audit records = %+v", audit.recs)
	}
}

func TestPerform_AuditFailureDoesNotFailRequest(t *testing.T) {
	audit := &memAuditor{err: errors.New("db locked")}
	svc, _ := makeServer(t, WithAuditor(audit))

	res := svc.Perform(context.Background(), Request{Action: ActionCreateDir, Path: "new"})
	if !res.OK {
		t.Errorf("result = %+v, want ok despite audit failure", res)
	}
}

func TestPerform_RootUnavailable(t *testing.T) {
	svc := NewService(func() (string, error) { return "", errors.New("no layout") })
	res := svc.Perform(context.Background(), Request{Action: ActionMeta})
	if res.OK || res.Code != apperrors.CodeInternal {
		t.Errorf("result = %+v", res)
	}
}

func TestSortEntries(t *testing.T) {
	entries := []Entry{
		{Name: "b.txt"},
		{Name: "A", IsDir: true},
		{Name: "a.txt"},
		{Name: "c", IsDir: true},
		{Name: "B.txt"},
	}
	SortEntries(entries)
	want := []string{"A", "c", "a.txt", "B.txt", "b.txt"}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Fatalf("order = %+v, want %v", entries, want)
		}
	}
}
