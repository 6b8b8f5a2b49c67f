package files

import "context"

// Action names accepted in file_manager_request payloads.
const (
	ActionMeta        = "meta"
	ActionList        = "list"
	ActionReadText    = "read_text"
	ActionWriteText   = "write_text"
	ActionWriteBinary = "write_binary"
	ActionCreateDir   = "create_dir"
	ActionDelete      = "delete"
	ActionDownload    = "download"
)

// Request is one file manager call.
type Request struct {
	RequestID string
	Action    string
	Path      string
	Content   string
}

// Result is the uniform {ok, data | error} shape sent back to the backend.
type Result struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Entry is a read-only projection of file metadata. It is built fresh from
// the filesystem on every call.
type Entry struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	ModTime string `json:"mod_time"`
}

// Listing is the data of a list action.
type Listing struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// TextFile is the data of a read_text action. Size is the number of bytes
// read, after decompression for .gz files.
type TextFile struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Size       int    `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// Download is the data of a download action.
type Download struct {
	FileName      string `json:"file_name"`
	ContentBase64 string `json:"content_base64"`
}

// Ack is the data of a successful mutating action.
type Ack struct {
	OK bool `json:"ok"`
}

// AuditRecord describes one mutating action for the audit log.
type AuditRecord struct {
	RequestID string
	Action    string
	Path      string
	OK        bool
	Error     string
}

// Auditor persists AuditRecords. Failures are logged by the service and never
// fail the request.
type Auditor interface {
	RecordFileAction(ctx context.Context, rec AuditRecord) error
}

// RootFunc returns the directory the sandbox is rooted at. It is called once
// per request so a moved install is picked up without a restart.
type RootFunc func() (string, error)

// StaticRoot returns a RootFunc for a fixed directory.
func StaticRoot(dir string) RootFunc {
	return func() (string, error) { return dir, nil }
}

func isMutating(action string) bool {
	switch action {
	case ActionWriteText, ActionWriteBinary, ActionCreateDir, ActionDelete:
		return true
	}
	return false
}
