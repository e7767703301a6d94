package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/klauspost/compress/gzip"
)

var (
	// ErrNotFound is returned for unknown file ids.
	ErrNotFound = errors.New("file not found")
	// ErrTooLarge is returned when an upload exceeds the configured size.
	ErrTooLarge = errors.New("file exceeds maximum upload size")
	// ErrFileType is returned for names outside the allowed extensions.
	ErrFileType = errors.New("file type not allowed")
)

// Store defines the interface for file storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Rename(id string, newName string) (*models.FileInfo, error)
	SetStatus(id string, status string) error
	GetFilePath(id string) (string, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
}

// Catalog receives file metadata changes. *catalog.Catalog implements it.
type Catalog interface {
	UpsertFile(ctx context.Context, info *models.FileInfo) error
	DeleteFile(ctx context.Context, id string) error
	ListFiles(ctx context.Context) ([]*models.FileInfo, error)
}

// Options configures a LocalStore.
type Options struct {
	// MaxSize limits the stored (decompressed) size; zero means unlimited.
	MaxSize int64
	// AllowedExtensions lists accepted lower-case name suffixes such as ".gpx";
	// empty accepts every name.
	AllowedExtensions []string
	// Catalog, when set, persists metadata across restarts.
	Catalog Catalog
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	opts      Options
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore without limits or catalog.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	return NewLocalStoreWithOptions(uploadDir, Options{})
}

// NewLocalStoreWithOptions creates a LocalStore. With a catalog attached, the
// files it lists are loaded if their content is still on disk.
func NewLocalStoreWithOptions(uploadDir string, opts Options) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		opts:      opts,
		files:     make(map[string]*models.FileInfo),
	}

	if opts.Catalog != nil {
		files, err := opts.Catalog.ListFiles(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		for _, info := range files {
			if _, err := os.Stat(filepath.Join(uploadDir, info.ID)); err != nil {
				fmt.Printf("[Storage] Catalog entry %s has no content, skipping\n", info.ID)
				continue
			}
			s.files[info.ID] = info
		}
		fmt.Printf("[Storage] Loaded %d files from catalog\n", len(s.files))
	}

	return s, nil
}

func (s *LocalStore) checkName(name string) error {
	if len(s.opts.AllowedExtensions) == 0 {
		return nil
	}
	lower := strings.ToLower(name)
	for _, ext := range s.opts.AllowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrFileType, name)
}

// Save stores the content of r under a new id. Gzip-compressed content is
// decompressed while it is written.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	if err := s.checkName(name); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	br := bufio.NewReader(r)
	var src io.Reader = br
	compressed := false
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
		compressed = true
	}

	if s.opts.MaxSize > 0 {
		src = io.LimitReader(src, s.opts.MaxSize+1)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}

	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if s.opts.MaxSize > 0 && size > s.opts.MaxSize {
		os.Remove(path)
		return nil, ErrTooLarge
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
		Compressed: compressed,
	}

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()

	s.persist(info)
	return info, nil
}

// SaveBytes stores an in-memory upload.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, bytes.NewReader(data))
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return info, nil
}

// List returns the most recent files. A limit <= 0 returns all of them.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)

	if s.opts.Catalog != nil {
		if err := s.opts.Catalog.DeleteFile(context.Background(), id); err != nil {
			fmt.Printf("[Storage] Catalog delete of %s failed: %v\n", id, err)
		}
	}
	return nil
}

// Rename updates the display name of a file.
func (s *LocalStore) Rename(id string, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	info, ok := s.files[id]
	if ok {
		info.Name = newName
	}
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.persist(info)
	return info, nil
}

// SetStatus records the outcome of parsing a file.
func (s *LocalStore) SetStatus(id string, status string) error {
	s.mu.Lock()
	info, ok := s.files[id]
	if ok {
		info.Status = status
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.persist(info)
	return nil
}

// persist writes metadata through to the catalog. Failures are logged; the
// file itself is already stored.
func (s *LocalStore) persist(info *models.FileInfo) {
	if s.opts.Catalog == nil {
		return
	}
	s.mu.RLock()
	snapshot := *info
	s.mu.RUnlock()

	if err := s.opts.Catalog.UpsertFile(context.Background(), &snapshot); err != nil {
		fmt.Printf("[Storage] Catalog update of %s failed: %v\n", info.ID, err)
	}
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return filepath.Join(s.uploadDir, id), nil
}

func (s *LocalStore) chunkDir(uploadID string) (string, error) {
	if uploadID == "" || uploadID != filepath.Base(uploadID) || strings.HasPrefix(uploadID, ".") {
		return "", fmt.Errorf("invalid upload id %q", uploadID)
	}
	return filepath.Join(s.uploadDir, "chunks", uploadID), nil
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if chunkIndex < 0 {
		return fmt.Errorf("invalid chunk index %d", chunkIndex)
	}
	dir, err := s.chunkDir(uploadID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}

	return nil
}

// CompleteChunkedUpload joins all chunks in order and stores them like a
// single upload.
func (s *LocalStore) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error) {
	dir, err := s.chunkDir(uploadID)
	if err != nil {
		return nil, err
	}
	if totalChunks <= 0 {
		return nil, fmt.Errorf("invalid chunk count %d", totalChunks)
	}

	readers := make([]io.Reader, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		f, err := os.Open(filepath.Join(dir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			return nil, fmt.Errorf("opening chunk %d: %w", i, err)
		}
		defer f.Close()
		readers = append(readers, f)
	}

	info, err := s.Save(name, io.MultiReader(readers...))
	if err != nil {
		return nil, err
	}

	os.RemoveAll(dir)
	return info, nil
}
