package attachments

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strings"
)

const (
	// MaxContextChars bounds the text each attachment contributes to a prompt.
	MaxContextChars = 4000
	TruncatedMarker = "\n... [truncated]"

	contextHeader = "\n\n--- ATTACHED FILES ---\n"
)

// Resolver maps a stored file reference to a readable local path.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// Context is the prompt material derived from a turn's attachments.
type Context struct {
	// Images holds one standalone base64 payload per readable image, in input order.
	Images []string
	// Text is appended to the user's message; empty when no non-image file contributed.
	Text string
}

// Augment returns message with the attachment text block appended.
func (c Context) Augment(message string) string {
	return message + c.Text
}

type Assembler struct {
	resolver Resolver
}

// NewAssembler returns an assembler; a nil resolver treats references as paths.
func NewAssembler(resolver Resolver) *Assembler {
	if resolver == nil {
		resolver = pathResolver{}
	}
	return &Assembler{resolver: resolver}
}

// Assemble processes attachments in order. Unreadable references are skipped.
func (a *Assembler) Assemble(descs []Descriptor) Context {
	var (
		out   Context
		files strings.Builder
	)
	for _, d := range descs {
		path, err := a.resolver.Resolve(d.FilePath)
		if err != nil {
			log.Printf("[Assemble] skip attachment file=%q path=%q err=%v", d.OriginalFilename, d.FilePath, err)
			continue
		}

		if d.IsImage() {
			b, err := os.ReadFile(path)
			if err != nil {
				log.Printf("[Assemble] skip image file=%q err=%v", d.OriginalFilename, err)
				continue
			}
			out.Images = append(out.Images, base64.StdEncoding.EncodeToString(b))
			continue
		}

		text := ExtractText(path, d.MimeType)
		if text == "" {
			continue
		}
		fmt.Fprintf(&files, "\nFile: %s\nType: %s\nContent:\n%s\n---\n",
			d.OriginalFilename, d.MimeType, Truncate(text, MaxContextChars))
	}
	if files.Len() > 0 {
		out.Text = contextHeader + files.String()
	}
	return out
}

// Truncate cuts text to maxChars characters and appends TruncatedMarker.
// Text within the budget is returned unchanged.
func Truncate(text string, maxChars int) string {
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars]) + TruncatedMarker
}

type pathResolver struct{}

func (pathResolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", os.ErrNotExist
	}
	fi, err := os.Stat(ref)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%s is a directory", ref)
	}
	return ref, nil
}
