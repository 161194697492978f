// Package uploads stores user images on local disk and names their public URLs.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/google/uuid"
)

// PublicPrefix is the URL path uploads are served from.
const PublicPrefix = "/uploads"

// Folders under the upload root.
const (
	FolderProducts = "products"
	FolderProfiles = "profiles"
)

const defaultMaxBytes = 5 << 20

var allowedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
}

var (
	// ErrUnsupportedType rejects files outside the image allow-list.
	ErrUnsupportedType = fmt.Errorf("%w: only png, jpg, jpeg, gif and webp images are accepted", failure.ErrInvalid)
	// ErrTooLarge rejects files above the size cap.
	ErrTooLarge = fmt.Errorf("%w: file is too large", failure.ErrInvalid)
	// ErrEmptyFile rejects zero-byte uploads.
	ErrEmptyFile = fmt.Errorf("%w: file is empty", failure.ErrInvalid)
	// ErrNotStored rejects removing a URL this store did not hand out.
	ErrNotStored = fmt.Errorf("%w: url does not name a stored upload", failure.ErrInvalid)
)

// Config points the store at its directory.
type Config struct {
	Dir      string
	MaxBytes int64
}

// Store writes uploads beneath a root directory.
type Store struct {
	root     string
	maxBytes int64
}

// NewStore creates the root directory when needed.
func NewStore(cfg Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Dir)
	if root == "" {
		return nil, errors.New("uploads: directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("uploads: create root: %w", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Store{root: root, maxBytes: maxBytes}, nil
}

// Root is the directory served under PublicPrefix.
func (s *Store) Root() string {
	return s.root
}

// SaveFile stores a multipart file part and returns its public URL.
func (s *Store) SaveFile(folder string, header *multipart.FileHeader) (string, error) {
	if header == nil {
		return "", ErrEmptyFile
	}
	if header.Size > s.maxBytes {
		return "", ErrTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("uploads: open part: %w", err)
	}
	defer file.Close()
	return s.Save(folder, header.Filename, file)
}

// Save copies content into folder under a random name that keeps the
// original extension, and returns the public URL.
func (s *Store) Save(folder, filename string, content io.Reader) (string, error) {
	if folder != FolderProducts && folder != FolderProfiles {
		return "", fmt.Errorf("uploads: unknown folder %q", folder)
	}
	extension := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[extension]; !ok {
		return "", ErrUnsupportedType
	}

	directory := filepath.Join(s.root, folder)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("uploads: create folder: %w", err)
	}
	name := uuid.NewString() + extension
	target := filepath.Join(directory, name)
	output, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("uploads: create file: %w", err)
	}

	written, copyErr := io.Copy(output, io.LimitReader(content, s.maxBytes+1))
	closeErr := output.Close()
	switch {
	case copyErr != nil:
		os.Remove(target)
		return "", fmt.Errorf("uploads: write file: %w", copyErr)
	case closeErr != nil:
		os.Remove(target)
		return "", fmt.Errorf("uploads: close file: %w", closeErr)
	case written > s.maxBytes:
		os.Remove(target)
		return "", ErrTooLarge
	case written == 0:
		os.Remove(target)
		return "", ErrEmptyFile
	}
	return path.Join(PublicPrefix, folder, name), nil
}

// Remove deletes a file previously returned by Save. A file that is already
// gone is not an error.
func (s *Store) Remove(publicURL string) error {
	relative, ok := strings.CutPrefix(publicURL, PublicPrefix+"/")
	if !ok {
		return ErrNotStored
	}
	folder, name, ok := strings.Cut(relative, "/")
	if !ok || (folder != FolderProducts && folder != FolderProfiles) {
		return ErrNotStored
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrNotStored
	}
	err := os.Remove(filepath.Join(s.root, folder, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("uploads: remove file: %w", err)
	}
	return nil
}
