package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// FileBlob is one file handed to the widget. Open is called once, when the
// file's turn in the batch comes.
type FileBlob struct {
	Name     string
	MimeType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// BytesBlob wraps an in-memory body.
func BytesBlob(name, mimeType string, body []byte) FileBlob {
	return FileBlob{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	}
}

// FromPath describes a local file. The MIME type comes from the extension,
// or from sniffing the first 512 bytes when the extension is unknown.
func FromPath(path string) (FileBlob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileBlob{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FileBlob{}, fmt.Errorf("%s is a directory", path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType, err = sniff(path)
		if err != nil {
			return FileBlob{}, err
		}
	}
	return FileBlob{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return http.DetectContentType(head[:n]), nil
}
