package services

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Source is where a document's bytes come from. It is one of InMemorySource,
// StreamSource or PathSource.
type Source interface {
	read() ([]byte, error)
}

// InMemorySource is an already-buffered payload.
type InMemorySource struct {
	Data []byte
}

func (s InMemorySource) read() ([]byte, error) { return s.Data, nil }

// StreamSource is an upload stream. It is read to the end into memory.
type StreamSource struct {
	Reader io.Reader
}

func (s StreamSource) read() ([]byte, error) {
	if s.Reader == nil {
		return nil, errors.New("stream source has no reader")
	}
	data, err := io.ReadAll(s.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload stream: %w", err)
	}
	return data, nil
}

// PathSource is a file on local disk.
type PathSource struct {
	Path string
}

func (s PathSource) read() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &SourceNotFoundError{Path: s.Path, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	return data, nil
}

// ReadSource returns the raw bytes behind src.
func ReadSource(src Source) ([]byte, error) {
	if src == nil {
		return nil, errors.New("nil source")
	}
	return src.read()
}

// Encode returns the standard base64 encoding of the bytes behind src.
func Encode(src Source) (string, error) {
	data, err := ReadSource(src)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
