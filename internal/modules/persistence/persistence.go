package persistence

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultImageDir  = "image" // Subfolder next to the executable
	defaultChunkSize = 1024    // Bytes copied per write
	defaultExtension = "jpg"
)

var allowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"bmp":  {},
	"webp": {},
}

// FilePersister writes downloaded images into a single destination directory.
type FilePersister struct {
	dir        string      // Directory where images are saved
	chunkSize  int         // Size of each write
	dirCreated bool        // Set once dir is known to exist
	logger     *zap.Logger // Logger for directory and write events
}

// DefaultDir returns the image folder next to the running executable.
//
// Returns:
//   - The absolute path of <executable dir>/image, or ./image if the
//     executable path cannot be resolved.
func DefaultDir() string {
	exe, err := os.Executable()
	if err != nil {
		return defaultImageDir
	}
	return filepath.Join(filepath.Dir(exe), defaultImageDir)
}

// New creates a new FilePersister instance.
//
// Parameters:
//   - dir: Destination directory. Created on the first write if absent.
//   - chunkSize: Bytes per write. Uses defaultChunkSize if not positive.
//   - logger: Logger for persistence events.
//
// Returns:
//   - A pointer to a new FilePersister instance.
func New(dir string, chunkSize int, logger *zap.Logger) *FilePersister {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &FilePersister{
		dir:       dir,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Dir returns the destination directory.
func (fp *FilePersister) Dir() string {
	return fp.dir
}

// Persist streams body into <dir>/<filename>, overwriting any existing file.
//
// Parameters:
//   - filename: Base name of the file to write.
//   - body: Source of the file content. It is read in chunkSize pieces.
//
// Returns:
//   - The number of bytes written.
//   - An error if the directory or file cannot be written. No partial file
//     is left behind in that case.
func (fp *FilePersister) Persist(filename string, body io.Reader) (int64, error) {
	if err := fp.ensureDir(); err != nil {
		return 0, err
	}

	path := filepath.Join(fp.dir, filename)
	fp.logger.Debug("persisting file", zap.String("filepath", path))

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	// The anonymous wrappers keep every write at most chunkSize bytes.
	written, err := io.CopyBuffer(struct{ io.Writer }{f}, struct{ io.Reader }{body}, make([]byte, fp.chunkSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("write file: %w", err)
	}
	return written, nil
}

func (fp *FilePersister) ensureDir() error {
	if fp.dirCreated {
		return nil
	}

	if _, err := os.Stat(fp.dir); err == nil {
		fp.dirCreated = true
		return nil
	}

	if err := os.MkdirAll(fp.dir, 0755); err != nil {
		return fmt.Errorf("create image folder: %w", err)
	}
	fp.dirCreated = true
	fp.logger.Info("created image folder", zap.String("dir", fp.dir))
	return nil
}

// Extension guesses an image extension from the literal URL text: the part
// after the last '.', lowercased, if it is a known image type, else "jpg".
func Extension(url string) string {
	idx := strings.LastIndex(url, ".")
	if idx < 0 {
		return defaultExtension
	}
	ext := strings.ToLower(url[idx+1:])
	if _, ok := allowedExtensions[ext]; ok {
		return ext
	}
	return defaultExtension
}

// Filename returns the name for the item at the given 1-based index.
func Filename(index int, url string) string {
	return fmt.Sprintf("%d.%s", index, Extension(url))
}
