package filereader

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// StdinPath selects standard input as the text source.
const StdinPath = "-"

// TextReader defines the interface for obtaining the text to extract from
type TextReader interface {
	ReadText(ctx context.Context, logger *zap.Logger) (string, error)
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// FileReader reads the whole text blob from a file or from stdin, byte for byte
type FileReader struct {
	path  string
	stdin io.Reader
}

var _ TextReader = (*FileReader)(nil)

// New creates a new FileReader. An empty path or StdinPath reads stdin.
func New(path string, stdin io.Reader) *FileReader {
	if stdin == nil {
		stdin = os.Stdin
	}
	return &FileReader{path: path, stdin: stdin}
}

func (fr *FileReader) ReadText(ctx context.Context, logger *zap.Logger) (string, error) {
	src := fr.stdin
	name := "stdin"
	if fr.path != "" && fr.path != StdinPath {
		file, err := os.Open(fr.path)
		if err != nil {
			return "", err
		}
		defer file.Close()
		src = file
		name = fr.path
	}

	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: src})
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("text reading interrupted", zap.Error(ctx.Err()))
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}

	logger.Debug("finished reading text", zap.String("source", name), zap.Int("bytes", len(data)))
	return string(data), nil
}
