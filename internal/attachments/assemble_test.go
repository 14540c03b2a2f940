package attachments

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssemble_ImagesOnly(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.png", []byte("first"))
	b := writeFile(t, dir, "b.jpg", []byte("second"))

	ctx := NewAssembler(nil).Assemble([]Descriptor{
		{FilePath: a, MimeType: "image/png", OriginalFilename: "a.png"},
		{FilePath: b, MimeType: "image/jpeg", OriginalFilename: "b.jpg"},
	})

	require.Empty(t, ctx.Text)
	require.Equal(t, []string{
		base64.StdEncoding.EncodeToString([]byte("first")),
		base64.StdEncoding.EncodeToString([]byte("second")),
	}, ctx.Images)
	require.Equal(t, "look", ctx.Augment("look"))
}

func TestAssemble_TextBlockFormat(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "stored.txt", []byte("alpha"))

	ctx := NewAssembler(nil).Assemble([]Descriptor{{FilePath: p, MimeType: "text/plain", OriginalFilename: "notes.txt"}})
	require.Equal(t, "\n\n--- ATTACHED FILES ---\n\nFile: notes.txt\nType: text/plain\nContent:\nalpha\n---\n", ctx.Text)
	require.Nil(t, ctx.Images)
}

func TestAssemble_TruncatesLongText(t *testing.T) {
	p := writeFile(t, t.TempDir(), "big.txt", []byte(strings.Repeat("a", 5000)))

	ctx := NewAssembler(nil).Assemble([]Descriptor{{FilePath: p, MimeType: "text/plain", OriginalFilename: "big.txt"}})
	want := strings.Repeat("a", MaxContextChars) + TruncatedMarker
	require.Contains(t, ctx.Text, "Content:\n"+want+"\n---\n")
	require.NotContains(t, ctx.Text, strings.Repeat("a", MaxContextChars+1))
}

func TestAssemble_SkipsUnreadable(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "ok.txt", []byte("kept"))

	ctx := NewAssembler(nil).Assemble([]Descriptor{
		{FilePath: filepath.Join(dir, "missing.txt"), MimeType: "text/plain", OriginalFilename: "missing.txt"},
		{FilePath: "", MimeType: "image/png", OriginalFilename: "none.png"},
		{FilePath: ok, MimeType: "text/plain", OriginalFilename: "ok.txt"},
	})
	require.Empty(t, ctx.Images)
	require.NotContains(t, ctx.Text, "missing.txt")
	require.Contains(t, ctx.Text, "File: ok.txt\n")
}

func TestAssemble_NothingUsable(t *testing.T) {
	ctx := NewAssembler(nil).Assemble([]Descriptor{{FilePath: "/does/not/exist", MimeType: "text/plain"}})
	require.Empty(t, ctx.Text)
	require.Empty(t, ctx.Images)
	require.Empty(t, NewAssembler(nil).Assemble(nil).Text)
}

type denyResolver struct{}

func (denyResolver) Resolve(string) (string, error) { return "", errors.New("outside upload dir") }

func TestAssemble_UsesResolver(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.txt", []byte("x"))
	ctx := NewAssembler(denyResolver{}).Assemble([]Descriptor{{FilePath: p, MimeType: "text/plain"}})
	require.Empty(t, ctx.Text)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 3))
	require.Equal(t, "ab"+TruncatedMarker, Truncate("abc", 2))
	require.Equal(t, "éé"+TruncatedMarker, Truncate("ééé", 2))
}
