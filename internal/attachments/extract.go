package attachments

import (
	"archive/zip"
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeCSV      = "text/csv"
	MimeHTML     = "text/html"
	MimeXML      = "text/xml"
	MimeJSON     = "application/json"
	MimePDF      = "application/pdf"
	MimeDoc      = "application/msword"
	MimeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLS      = "application/vnd.ms-excel"
	MimeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

const csvPreviewLines = 10

var errInvalidUTF8 = errors.New("file is not valid UTF-8 text")

// ExtractText returns prompt-ready text for the file at path. It never fails:
// read and decode problems come back as a bracketed placeholder naming the file.
func ExtractText(path, mimeType string) string {
	name := filepath.Base(path)
	text, err := extract(path, normalizeMime(mimeType))
	if err != nil {
		log.Printf("[ExtractText] file=%s mime=%s err=%v", name, mimeType, err)
		return fmt.Sprintf("[File: %s - Error reading file: %v]", name, err)
	}
	return text
}

func extract(path, mimeType string) (string, error) {
	name := filepath.Base(path)
	switch {
	case mimeType == MimePlain, mimeType == MimeMarkdown:
		return readUTF8(path)
	case mimeType == MimePDF:
		text, err := extractPDF(path)
		if err != nil {
			return fmt.Sprintf("[PDF file: %s - Error extracting text: %v]", name, err), nil
		}
		return text, nil
	case mimeType == MimeDocx:
		text, err := extractDocx(path)
		if err != nil {
			return fmt.Sprintf("[Word document: %s - Error extracting text: %v]", name, err), nil
		}
		return text, nil
	case mimeType == MimeDoc:
		return fmt.Sprintf("[Word document: %s - Legacy .doc format is not supported for text extraction]", name), nil
	case isImage(mimeType):
		return fmt.Sprintf("[Image file: %s]", name), nil
	case mimeType == MimeCSV:
		return csvPreview(path, csvPreviewLines)
	case mimeType == MimeJSON, mimeType == MimeHTML, mimeType == MimeXML:
		return readUTF8(path)
	default:
		return fmt.Sprintf("[File: %s - Content type not supported for text extraction]", name), nil
	}
}

func normalizeMime(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func readUTF8(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errInvalidUTF8
	}
	return string(b), nil
}

func csvPreview(path string, lines int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var b strings.Builder
	for i := 0; i < lines; i++ {
		line, err := r.ReadString('\n')
		b.WriteString(line)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	if !utf8.ValidString(b.String()) {
		return "", errInvalidUTF8
	}
	return b.String(), nil
}

func extractPDF(path string) (text string, err error) {
	// The parser panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// extractDocx pulls paragraph text out of word/document.xml.
func extractDocx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteString(para.String())
				out.WriteString("\n")
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
