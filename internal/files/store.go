// Package files stores uploaded attachment bytes on local disk and validates
// uploads before they reach the chat pipeline.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("file not found")
	ErrPathTraversal = errors.New("path traversal is forbidden")
)

// Store keeps uploads as flat files under a single root directory.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// UniqueFilename generates a stored name that keeps the original extension.
func UniqueFilename(original string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(original), "."))
	if ext == "" {
		return id
	}
	return id + "." + ext
}

// Put writes r under filename and returns the stored path reference.
func (s *Store) Put(_ context.Context, filename string, r io.Reader) (string, error) {
	dest, err := s.pathFor(filename)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("close file: %w", err)
	}
	return dest, nil
}

// Open returns the stored file by name.
func (s *Store) Open(_ context.Context, filename string) (*os.File, error) {
	p, err := s.pathFor(filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *Store) Delete(_ context.Context, filename string) error {
	p, err := s.pathFor(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Resolve maps a stored path reference to a readable regular file inside
// the root. References outside the root are rejected.
func (s *Store) Resolve(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", ErrNotFound
	}
	p := ref
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		p = abs
	}
	p = filepath.Clean(p)
	if !s.within(p) {
		return "", ErrPathTraversal
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return p, nil
}

func (s *Store) pathFor(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", ErrPathTraversal
	}
	return filepath.Join(s.root, filename), nil
}

func (s *Store) within(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}
