package environment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/docker/go-units"
	"golang.org/x/text/encoding/charmap"

	"github.com/p-arndt/pyexec/internal/workspace"
	"github.com/p-arndt/pyexec/protocol"
)

// Read loads a file from the environment and classifies it as image, binary
// or text. Only regular files are read.
func (m *Manager) Read(ctx context.Context, raw, filename string) (*protocol.File, error) {
	id, dir, err := m.confined(raw, filename)
	if err != nil {
		return nil, err
	}
	if err := m.open(ctx, id, dir); err != nil {
		return nil, err
	}

	info, err := workspace.Stat(dir, filename)
	if err != nil {
		return nil, m.statError(id, filename, err)
	}
	if err := notRegular(filename, info); err != nil {
		return nil, err
	}
	if info.Size() > m.maxRead {
		return nil, m.tooLarge(filename, info.Size())
	}

	f, err := workspace.Open(dir, filename)
	if err != nil {
		return nil, m.statError(id, filename, err)
	}
	defer f.Close()

	// The path may have been swapped between stat and open.
	if info, err = f.Stat(); err != nil {
		return nil, fmt.Errorf("stat %s: %w", filename, err)
	}
	if err := notRegular(filename, info); err != nil {
		return nil, err
	}

	// The file may grow between stat and read.
	data, err := io.ReadAll(io.LimitReader(f, m.maxRead+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if int64(len(data)) > m.maxRead {
		return nil, m.tooLarge(filename, int64(len(data)))
	}

	file := classify(filename, data)
	return &file, nil
}

func notRegular(filename string, info fs.FileInfo) error {
	switch {
	case info.IsDir():
		return fmt.Errorf("%w: '%s' is a directory", ErrFileNotFound, filename)
	case !info.Mode().IsRegular():
		return fmt.Errorf("%w: '%s' is not a regular file", ErrFileNotFound, filename)
	}
	return nil
}

func (m *Manager) statError(id, filename string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: '%s' in environment '%s'", ErrFileNotFound, filename, id)
	}
	if errors.Is(err, ErrPathTraversal) {
		return err
	}
	return fmt.Errorf("stat %s: %w", filename, err)
}

func (m *Manager) tooLarge(filename string, size int64) error {
	return fmt.Errorf("%w: '%s' is %d bytes (%s), max is %s",
		ErrFileTooLarge, filename, size, units.BytesSize(float64(size)), units.BytesSize(float64(m.maxRead)))
}

// classify picks the payload variant for data.
func classify(filename string, data []byte) protocol.File {
	mt := guessMIME(filename)
	file := protocol.File{Filename: filename, MIMEType: mt, Size: int64(len(data))}

	sniff := data
	if len(sniff) > protocol.SniffBytes {
		sniff = sniff[:protocol.SniffBytes]
	}

	switch {
	case strings.HasPrefix(mt, "image/"):
		file.Kind = protocol.KindImage
		file.Data = data
	case bytes.IndexByte(sniff, 0) >= 0:
		file.Kind = protocol.KindBinary
		file.Data = data
		if file.MIMEType == "" {
			file.MIMEType = protocol.DefaultBinaryMIME
		}
	default:
		file.Kind = protocol.KindText
		file.Text = decodeText(data)
		if file.MIMEType == "" {
			file.MIMEType = protocol.DefaultTextMIME
		}
	}
	return file
}

// guessMIME returns the extension-derived media type without parameters, or
// "" when the extension is unknown.
func guessMIME(filename string) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mt == "" {
		return ""
	}
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	mt, _, _ = strings.Cut(mt, ";")
	return strings.TrimSpace(mt)
}

// decodeText returns data as UTF-8, transcoding from Latin-1 when data is not
// valid UTF-8.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		// ISO 8859-1 maps every byte; unreachable in practice.
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

// Write stores content at filename inside the environment, creating parent
// directories as needed.
func (m *Manager) Write(ctx context.Context, raw, filename, content string) (*protocol.WriteResult, error) {
	id, dir, err := m.confined(raw, filename)
	if err != nil {
		return nil, err
	}

	mu := m.envLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := m.openLocked(ctx, id, dir); err != nil {
		return nil, err
	}
	if err := workspace.WriteFile(dir, filename, []byte(content)); err != nil {
		return nil, err
	}
	return &protocol.WriteResult{
		Status:       "success",
		Filename:     filename,
		BytesWritten: len(content),
		Hint:         fmt.Sprintf("To show this file to the user, call read_file(env_id='%s', filename='%s')", id, filename),
	}, nil
}

// ListFiles returns the environment's files, excluding the virtualenv and
// VCS metadata.
func (m *Manager) ListFiles(ctx context.Context, raw string) (string, []string, error) {
	id, dir, err := m.ws.Path(raw)
	if err != nil {
		return "", nil, err
	}
	if err := m.open(ctx, id, dir); err != nil {
		return "", nil, err
	}
	files, err := workspace.ListFiles(dir)
	if err != nil {
		return "", nil, err
	}
	return id, files, nil
}

// FilePath returns the absolute confined path of an existing file.
func (m *Manager) FilePath(ctx context.Context, raw, filename string) (string, string, error) {
	id, dir, err := m.confined(raw, filename)
	if err != nil {
		return "", "", err
	}
	if err := m.open(ctx, id, dir); err != nil {
		return "", "", err
	}
	if _, err := workspace.Stat(dir, filename); err != nil {
		return "", "", m.statError(id, filename, err)
	}
	path, err := workspace.Confine(dir, filename)
	if err != nil {
		return "", "", err
	}
	return id, path, nil
}

// confined resolves the environment and validates filename against its root
// before anything is opened or created, so a rejected name has no side
// effects. File I/O itself goes through the workspace root helpers.
func (m *Manager) confined(raw, filename string) (id, dir string, err error) {
	id, dir, err = m.ws.Path(raw)
	if err != nil {
		return "", "", err
	}
	if _, err := workspace.Confine(dir, filename); err != nil {
		return "", "", err
	}
	return id, dir, nil
}
