package peer

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// File is a file selected for sending.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// LoadFile reads path into a File. The MIME type comes from the extension,
// falling back to content sniffing.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	name := filepath.Base(path)
	return &File{Name: name, MimeType: detectMimeType(name, data), Data: data}, nil
}

func detectMimeType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
