// Package protocol defines the JSON payloads exchanged between the pyexec
// tool server and the calling agent.
package protocol

import "time"

// CreateStatus reports the outcome of an environment creation request.
type CreateStatus string

const (
	StatusCreated            CreateStatus = "created"
	StatusAlreadyExists      CreateStatus = "already_exists"
	StatusCreatedWithWarning CreateStatus = "created_with_warning"
)

// CreateResult is returned by create_env.
type CreateResult struct {
	Status  CreateStatus `json:"status"`
	EnvID   string       `json:"env_id"`
	Path    string       `json:"path"`
	Warning string       `json:"warning,omitempty"`
}

// ExecResult is the outcome of a successful execute_python call.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Hint       string `json:"hint,omitempty"`
}

// WriteResult is returned by write_file.
type WriteResult struct {
	Status       string `json:"status"`
	Filename     string `json:"filename"`
	BytesWritten int    `json:"bytes_written"`
	Hint         string `json:"hint,omitempty"`
}

// FileKind discriminates the File payload variants.
type FileKind string

const (
	KindImage  FileKind = "image"
	KindBinary FileKind = "binary"
	KindText   FileKind = "text"
)

// File is a file read back from an environment. Kind selects which payload
// field is populated: Text for KindText, Data for KindImage and KindBinary.
// Data is base64 encoded on the wire.
type File struct {
	Filename string   `json:"filename"`
	Kind     FileKind `json:"type"`
	MIMEType string   `json:"mime_type"`
	Size     int64    `json:"size"`
	Text     string   `json:"content,omitempty"`
	Data     []byte   `json:"content_base64,omitempty"`
}

// Package is one entry of an environment's installed package list.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Invocation is a recorded run of the external manager.
type Invocation struct {
	ID         string    `json:"id"`
	EnvID      string    `json:"env_id"`
	Command    string    `json:"command"`
	Args       []string  `json:"args"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DefaultMaxReadBytes is the default ceiling on file reads.
const DefaultMaxReadBytes = 10 * 1024 * 1024 // 10 MiB

// SniffBytes is how much of a file is inspected for null bytes.
const SniffBytes = 1024

// DefaultFilename is the file execute_python writes to and runs.
const DefaultFilename = "main.py"

const (
	DefaultImageMIME  = "image/png"
	DefaultBinaryMIME = "application/octet-stream"
	DefaultTextMIME   = "text/plain"
)

// DefaultExecTimeout bounds every external manager invocation.
const DefaultExecTimeout = 300 * time.Second
