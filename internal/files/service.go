// Package files implements the file manager the backend panel drives through
// file_manager_request events.
//
// Every action resolves its path through a fresh sandbox rooted at the server
// install directory, touches the filesystem, and returns an immutable result.
// Nothing is cached between calls.
package files

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/metrics"
	"github.com/trybeacon/bridge/internal/sandbox"
)

// DefaultReadCap bounds read_text when no cap is configured.
const DefaultReadCap int64 = 8 << 20

// Service performs file manager actions inside the sandbox.
type Service struct {
	root    RootFunc
	readCap int64
	audit   Auditor
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithReadCap sets the largest file read_text will load.
func WithReadCap(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.readCap = n
		}
	}
}

// WithAuditor records mutating actions.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("files")
		}
	}
}

// WithMetrics records per-action counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service rooted wherever root points.
func NewService(root RootFunc, opts ...Option) *Service {
	s := &Service{
		root:    root,
		readCap: DefaultReadCap,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Perform runs one request and folds the outcome into a Result. It never
// returns an error; failures become ok=false with a reason.
func (s *Service) Perform(ctx context.Context, req Request) Result {
	data, err := s.do(req)

	res := Result{OK: err == nil, Data: data}
	if err != nil {
		res.Data = nil
		res.Code, res.Error = apperrors.ToCodeAndMessage(err)
		s.logger.Debug("file action failed",
			zap.String("action", req.Action),
			zap.String("path", req.Path),
			zap.Error(err))
	}
	s.metrics.FileOp(req.Action, res.OK)

	if s.audit != nil && isMutating(req.Action) {
		rec := AuditRecord{
			RequestID: req.RequestID,
			Action:    req.Action,
			Path:      req.Path,
			OK:        res.OK,
			Error:     res.Error,
		}
		if aerr := s.audit.RecordFileAction(ctx, rec); aerr != nil {
			s.logger.Warn("audit write failed", zap.String("action", req.Action), zap.Error(aerr))
		}
	}
	return res
}

func (s *Service) do(req Request) (any, error) {
	switch req.Action {
	case ActionMeta:
		return s.Meta(req.Path)
	case ActionList:
		return s.List(req.Path)
	case ActionReadText:
		return s.ReadText(req.Path)
	case ActionWriteText:
		return s.WriteText(req.Path, req.Content)
	case ActionWriteBinary:
		return s.WriteBinary(req.Path, req.Content)
	case ActionCreateDir:
		return s.CreateDir(req.Path)
	case ActionDelete:
		return s.Delete(req.Path)
	case ActionDownload:
		return s.Download(req.Path)
	default:
		return nil, apperrors.UnsupportedAction(req.Action)
	}
}

// sandbox builds the boundary for one call.
func (s *Service) sandbox() (*sandbox.Sandbox, error) {
	dir, err := s.root()
	if err != nil {
		return nil, apperrors.Internal("server root unavailable", err)
	}
	return sandbox.New(dir)
}

// Meta returns metadata for an existing path.
func (s *Service) Meta(path string) (Entry, error) {
	sb, err := s.sandbox()
	if err != nil {
		return Entry{}, err
	}
	p, err := sb.ResolveExisting(path)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(p.Abs)
	if err != nil {
		return Entry{}, statError(p, err)
	}
	return entryFor(p.Rel, p.Name(), info), nil
}

// List returns the directory's children, directories first, then by name
// ignoring case.
func (s *Service) List(path string) (Listing, error) {
	sb, err := s.sandbox()
	if err != nil {
		return Listing{}, err
	}
	p, err := sb.ResolveExisting(path)
	if err != nil {
		return Listing{}, err
	}
	info, err := os.Stat(p.Abs)
	if err != nil {
		return Listing{}, statError(p, err)
	}
	if !info.IsDir() {
		return Listing{}, apperrors.NotDirectory(p.Rel)
	}

	dirEntries, err := os.ReadDir(p.Abs)
	if err != nil {
		return Listing{}, apperrors.IOFailed("read directory", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		ci, err := childInfo(sb, filepath.Join(p.Abs, de.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, entryFor(joinRel(p.Rel, de.Name()), de.Name(), ci))
	}
	SortEntries(entries)

	return Listing{Path: p.Rel, Entries: entries}, nil
}

// childInfo describes a listing entry. Links are followed only when their
// target stays inside the sandbox, so a linked directory lists as a
// directory. Dangling links and links leading out of the root describe the
// link itself.
func childInfo(sb *sandbox.Sandbox, abs string) (os.FileInfo, error) {
	if real, err := filepath.EvalSymlinks(abs); err == nil && sandbox.Within(real, sb.Root()) {
		if info, err := os.Stat(real); err == nil {
			return info, nil
		}
	}
	return os.Lstat(abs)
}

// ReadText returns a file as UTF-8 text. Names ending in .gz are gunzipped.
func (s *Service) ReadText(path string) (TextFile, error) {
	sb, err := s.sandbox()
	if err != nil {
		return TextFile{}, err
	}
	p, err := sb.ResolveExisting(path)
	if err != nil {
		return TextFile{}, err
	}
	info, err := os.Stat(p.Abs)
	if err != nil {
		return TextFile{}, statError(p, err)
	}
	if info.IsDir() {
		return TextFile{}, apperrors.IsDirectory(p.Rel)
	}
	if info.Size() > s.readCap {
		return TextFile{}, apperrors.TooLarge(info.Size(), s.readCap)
	}

	content, err := s.readContent(p.Abs)
	if err != nil {
		return TextFile{}, err
	}
	if !utf8.Valid(content) {
		return TextFile{}, apperrors.InvalidUTF8(p.Rel)
	}

	return TextFile{
		Path:       p.Rel,
		Name:       p.Name(),
		Content:    string(content),
		Size:       len(content),
		ModifiedAt: formatTime(info.ModTime()),
	}, nil
}

func (s *Service) readContent(abs string) ([]byte, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, apperrors.IOFailed("open file", err)
	}
	defer f.Close()

	var r io.Reader = f
	if isGzipName(abs) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, apperrors.IOFailed("decompress file", err)
		}
		defer gz.Close()
		r = gz
	}

	// Read one byte past the cap to detect oversized decompressed content.
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, s.readCap+1))
	if err != nil {
		return nil, apperrors.IOFailed("read file", err)
	}
	if n > s.readCap {
		return nil, apperrors.TooLarge(n, s.readCap)
	}
	return buf.Bytes(), nil
}

// WriteText writes UTF-8 text, creating parent directories as needed.
func (s *Service) WriteText(path, content string) (Ack, error) {
	sb, err := s.sandbox()
	if err != nil {
		return Ack{}, err
	}
	p, err := sb.ResolveForWrite(path)
	if err != nil {
		return Ack{}, err
	}
	if err := refuseDirectory(p); err != nil {
		return Ack{}, err
	}
	if isGzipName(p.Abs) {
		return Ack{}, apperrors.UnsupportedFormat(p.Rel)
	}
	if !utf8.ValidString(content) {
		return Ack{}, apperrors.InvalidUTF8(p.Rel)
	}
	if err := writeFile(p.Abs, []byte(content)); err != nil {
		return Ack{}, err
	}
	return Ack{OK: true}, nil
}

// WriteBinary decodes base64 content and writes the raw bytes.
func (s *Service) WriteBinary(path, contentBase64 string) (Ack, error) {
	sb, err := s.sandbox()
	if err != nil {
		return Ack{}, err
	}
	p, err := sb.ResolveForWrite(path)
	if err != nil {
		return Ack{}, err
	}
	if err := refuseDirectory(p); err != nil {
		return Ack{}, err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(contentBase64))
	if err != nil {
		return Ack{}, apperrors.BadEncoding(err)
	}
	if err := writeFile(p.Abs, data); err != nil {
		return Ack{}, err
	}
	return Ack{OK: true}, nil
}

// CreateDir creates the directory and any missing ancestors.
func (s *Service) CreateDir(path string) (Ack, error) {
	sb, err := s.sandbox()
	if err != nil {
		return Ack{}, err
	}
	p, err := sb.ResolveForWrite(path)
	if err != nil {
		return Ack{}, err
	}
	if err := os.MkdirAll(p.Abs, 0755); err != nil {
		if info, serr := os.Stat(p.Abs); serr == nil && !info.IsDir() {
			return Ack{}, apperrors.NotDirectory(p.Rel)
		}
		return Ack{}, apperrors.IOFailed("create directory", err)
	}
	return Ack{OK: true}, nil
}

// Delete removes a file or directory tree. The sandbox root is refused
// whatever spelling the request uses. A symlink is removed itself, never its
// target.
func (s *Service) Delete(path string) (Ack, error) {
	sb, err := s.sandbox()
	if err != nil {
		return Ack{}, err
	}
	p, err := sb.Resolve(path)
	if err != nil {
		return Ack{}, err
	}
	if p.IsRoot() {
		return Ack{}, apperrors.IsRoot()
	}

	// The parent must be inside the real root even if the target is a link.
	if _, err := sb.ResolveForWrite(filepath.ToSlash(filepath.Dir(p.Rel))); err != nil {
		return Ack{}, err
	}

	info, err := os.Lstat(p.Abs)
	if err != nil {
		return Ack{}, statError(p, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(p.Abs); err != nil {
			return Ack{}, apperrors.IOFailed("delete", err)
		}
		return Ack{OK: true}, nil
	}

	real, err := sb.ResolveExisting(p.Rel)
	if err != nil {
		return Ack{}, err
	}
	if real.IsRoot() {
		return Ack{}, apperrors.IsRoot()
	}
	if err := os.RemoveAll(p.Abs); err != nil {
		return Ack{}, apperrors.IOFailed("delete", err)
	}
	return Ack{OK: true}, nil
}

// Download returns a file's name and base64 content.
func (s *Service) Download(path string) (Download, error) {
	sb, err := s.sandbox()
	if err != nil {
		return Download{}, err
	}
	p, err := sb.ResolveExisting(path)
	if err != nil {
		return Download{}, err
	}
	info, err := os.Stat(p.Abs)
	if err != nil {
		return Download{}, statError(p, err)
	}
	if info.IsDir() {
		return Download{}, apperrors.IsDirectory(p.Rel)
	}
	data, err := os.ReadFile(p.Abs)
	if err != nil {
		return Download{}, apperrors.IOFailed("read file", err)
	}
	return Download{
		FileName:      p.Name(),
		ContentBase64: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// SortEntries orders directories first, then by case-insensitive name. Ties
// fall back to the exact name so the order is stable.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		li, lj := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if li != lj {
			return li < lj
		}
		return entries[i].Name < entries[j].Name
	})
}

func entryFor(rel, name string, info os.FileInfo) Entry {
	return Entry{
		Path:    rel,
		Name:    name,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: formatTime(info.ModTime()),
	}
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isGzipName(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

func statError(p sandbox.Path, err error) error {
	if os.IsNotExist(err) {
		return apperrors.NotFound(p.Rel)
	}
	return apperrors.IOFailed(fmt.Sprintf("stat %s", p.Rel), err)
}

func refuseDirectory(p sandbox.Path) error {
	info, err := os.Stat(p.Abs)
	if err == nil && info.IsDir() {
		return apperrors.IsDirectory(p.Rel)
	}
	return nil
}
