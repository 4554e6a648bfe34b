package models

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Blob is an in-memory file waiting to be uploaded.
type Blob struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewBlob builds a Blob, sniffing the content type when none is given.
func NewBlob(filename string, data []byte) *Blob {
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Blob{Filename: filename, ContentType: ct, Data: data}
}

// ReadBlob loads a file from disk as a Blob.
func ReadBlob(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewBlob(filepath.Base(path), data), nil
}

// Size returns the payload length.
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// IsBlob reports whether v is a pending upload.
func IsBlob(v any) bool {
	switch b := v.(type) {
	case *Blob:
		return b != nil
	case Blob:
		return true
	default:
		return false
	}
}

// AsBlob returns v as a *Blob when it is one.
func AsBlob(v any) (*Blob, bool) {
	switch b := v.(type) {
	case *Blob:
		return b, b != nil
	case Blob:
		return &b, true
	default:
		return nil, false
	}
}
