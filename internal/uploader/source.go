package uploader

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// PartSource supplies byte ranges of the file being uploaded. ReadPart may be
// called multiple times for the same range when a part is retried.
type PartSource interface {
	// Size returns the total size of the source in bytes.
	Size() int64

	// ReadPart returns a reader over [offset, offset+length).
	ReadPart(offset, length int64) (io.Reader, error)
}

// FileSource reads parts from a file on disk.
type FileSource struct {
	file *os.File
	size int64
}

// OpenFileSource opens a file as a part source.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}
	return &FileSource{file: f, size: info.Size()}, nil
}

// Size returns the file size.
func (s *FileSource) Size() int64 {
	return s.size
}

// ReadPart returns a section reader over the requested range. SectionReader
// does positioned reads, so concurrent workers never race on a shared offset.
func (s *FileSource) ReadPart(offset, length int64) (io.Reader, error) {
	if offset < 0 || offset+length > s.size {
		return nil, fmt.Errorf("part range [%d, %d) outside file of size %d", offset, offset+length, s.size)
	}
	return io.NewSectionReader(s.file, offset, length), nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}

// BytesSource reads parts from an in-memory buffer. Used in tests and for
// small payloads already held in memory.
type BytesSource struct {
	data []byte
}

// NewBytesSource wraps a byte slice as a part source.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

// Size returns the buffer length.
func (s *BytesSource) Size() int64 {
	return int64(len(s.data))
}

// ReadPart returns a reader over the requested range.
func (s *BytesSource) ReadPart(offset, length int64) (io.Reader, error) {
	if offset < 0 || offset+length > int64(len(s.data)) {
		return nil, fmt.Errorf("part range [%d, %d) outside buffer of size %d", offset, offset+length, len(s.data))
	}
	return bytes.NewReader(s.data[offset : offset+length]), nil
}
