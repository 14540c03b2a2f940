package files

import (
	"errors"
	"fmt"
	"math"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultMaxFileSize int64 = 5 * 1024 * 1024

var (
	ErrNoFilename      = errors.New("no filename provided")
	ErrFileTooLarge    = errors.New("file too large")
	ErrTypeNotAllowed  = errors.New("file type not allowed")
	ErrMimeNotAllowed  = errors.New("MIME type not allowed")
	ErrContentMismatch = errors.New("file content does not match its type")
)

var allowedExtensions = map[string]struct{}{
	"txt": {}, "pdf": {}, "doc": {}, "docx": {}, "md": {}, "rtf": {},
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "bmp": {}, "webp": {},
	"csv": {}, "xlsx": {}, "xls": {},
	"json": {}, "xml": {}, "html": {}, "htm": {},
}

var allowedMimeTypes = map[string]struct{}{
	"text/plain": {}, "text/markdown": {}, "text/csv": {}, "text/html": {}, "text/xml": {},
	"application/pdf": {}, "application/json": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"image/jpeg": {}, "image/png": {}, "image/gif": {}, "image/bmp": {}, "image/webp": {},
}

var extensionMime = map[string]string{
	"txt":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
	"json": "application/json",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"html": "text/html",
	"htm":  "text/html",
	"xml":  "text/xml",
	"rtf":  "application/rtf",
}

// contentFamily names the sniffed type a declared type's content must descend from.
func contentFamily(mimeType string) string {
	switch mimeType {
	case "text/plain", "text/markdown", "text/csv", "text/html", "text/xml", "application/json":
		return "text/plain"
	case "application/pdf":
		return "application/pdf"
	case "application/msword", "application/vnd.ms-excel":
		return "application/x-ole-storage"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "application/zip"
	}
	return ""
}

type Validator struct {
	MaxFileSize int64
}

func NewValidator(maxFileSize int64) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Validator{MaxFileSize: maxFileSize}
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Validate checks size, extension and MIME type against the allow-lists.
func (v *Validator) Validate(filename, mimeType string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return ErrNoFilename
	}
	if size > v.MaxFileSize {
		return fmt.Errorf("%w: maximum size is %s", ErrFileTooLarge, FormatSize(v.MaxFileSize))
	}
	if _, ok := allowedExtensions[extension(filename)]; !ok {
		exts := make([]string, 0, len(allowedExtensions))
		for e := range allowedExtensions {
			exts = append(exts, e)
		}
		sort.Strings(exts)
		return fmt.Errorf("%w. Supported types: %s", ErrTypeNotAllowed, strings.Join(exts, ", "))
	}
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		return fmt.Errorf("%w: %s", ErrMimeNotAllowed, mimeType)
	}
	return nil
}

// CheckContent sniffs head and rejects content that contradicts mimeType,
// such as a ".pdf" that is not a PDF or a ".png" that is not an image.
func (v *Validator) CheckContent(mimeType string, head []byte) error {
	detected := mimetype.Detect(head)
	if strings.HasPrefix(mimeType, "image/") {
		for m := detected; m != nil; m = m.Parent() {
			if strings.HasPrefix(m.String(), "image/") {
				return nil
			}
		}
		return fmt.Errorf("%w: %s is not an image (detected %s)", ErrContentMismatch, mimeType, detected.String())
	}
	family := contentFamily(mimeType)
	if family == "" {
		return nil
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(family) {
			return nil
		}
	}
	return fmt.Errorf("%w: expected %s, detected %s", ErrContentMismatch, mimeType, detected.String())
}

// DetectMime resolves a MIME type from the filename, falling back to the
// extension table and finally to sniffing head.
func DetectMime(filename string, head []byte) string {
	ext := extension(filename)
	if m, ok := extensionMime[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension("." + ext); ext != "" && m != "" {
		m, _, _ = strings.Cut(m, ";")
		return strings.TrimSpace(m)
	}
	if len(head) > 0 {
		m := mimetype.Detect(head).String()
		m, _, _ = strings.Cut(m, ";")
		return strings.TrimSpace(m)
	}
	return "application/octet-stream"
}

// FormatSize renders a byte count as "0 B", "512 B", "1.5 KB", "5 MB".
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	v = math.Round(v*100) / 100
	return fmt.Sprintf("%s %s", trimFloat(v), units[i])
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
