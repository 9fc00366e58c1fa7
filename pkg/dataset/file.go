package dataset

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// File is a read-only view of a dataset file with transparent gzip
// decompression. Plain files support byte seeking; compressed ones do
// not, which samplers account for when restoring cursors.
type File struct {
	file       *os.File
	gz         *gzip.Reader
	compressed bool
}

// Open opens path for reading. Paths ending in .gz are decompressed on
// the fly.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return &File{file: f}, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	return &File{file: f, gz: gz, compressed: true}, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.compressed {
		return f.gz.Read(p)
	}
	return f.file.Read(p)
}

// Compressed reports whether the underlying stream is gzip-compressed.
func (f *File) Compressed() bool { return f.compressed }

// Seek moves the read position of a plain file. Compressed files cannot
// seek; callers must re-read from the start instead.
func (f *File) Seek(offset int64) error {
	if f.compressed {
		return fmt.Errorf("cannot seek in compressed stream %s", f.file.Name())
	}
	if _, err := f.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s to %d: %w", f.file.Name(), offset, err)
	}
	return nil
}

// Close closes the stream and the underlying file.
func (f *File) Close() error {
	if f.gz != nil {
		if err := f.gz.Close(); err != nil {
			f.file.Close()
			return err
		}
	}
	return f.file.Close()
}
