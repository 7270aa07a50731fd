// Package inspect gathers the metadata attached to a job before upload:
// size, sniffed mime type and, for PDFs, the page count.
package inspect

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	ErrTooLarge            = errors.New("file exceeds upload size limit")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
)

// FileInfo describes a local file about to be uploaded.
type FileInfo struct {
	Path      string
	Filename  string
	MimeType  string
	SizeBytes int64
	PageCount int
}

// File stats and sniffs path. PDF page counting is best-effort: an
// unparseable PDF still uploads, the server pipeline decides what to do
// with it.
func File(path string) (FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && n == 0 {
		return FileInfo{}, fmt.Errorf("read %s: %w", path, err)
	}

	info := FileInfo{
		Path:      path,
		Filename:  filepath.Base(path),
		MimeType:  http.DetectContentType(head[:n]),
		SizeBytes: stat.Size(),
	}
	if strings.ToLower(filepath.Ext(path)) == ".pdf" {
		info.MimeType = "application/pdf"
		info.PageCount = pdfPageCount(path)
	}
	return info, nil
}

func pdfPageCount(path string) int {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()
	return reader.NumPage()
}

// CheckLimits enforces the client-side upload constraints from config.
// maxBytes <= 0 means unlimited; an empty extension list allows everything.
func CheckLimits(info FileInfo, maxBytes int64, allowedExts []string) error {
	if maxBytes > 0 && info.SizeBytes > maxBytes {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, info.Filename, info.SizeBytes, maxBytes)
	}
	if len(allowedExts) == 0 {
		return nil
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(info.Filename), "."))
	for _, allowed := range allowedExts {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return nil
		}
	}
	return fmt.Errorf("%w: .%s", ErrExtensionNotAllowed, ext)
}
