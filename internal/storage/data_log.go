package storage

import (
	"fmt"
	"io"
	"os"
)

// DataLog is the append-only record file. Offsets are handed in by the
// caller, which tracks the next write position as a monotonic cursor; the
// log itself never decides where a record goes.
type DataLog struct {
	file *os.File
	path string
}

func OpenDataLog(path string) (*DataLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data log: %w", err)
	}
	return &DataLog{file: file, path: path}, nil
}

// Size reports the current file length, used to seed the write cursor.
func (d *DataLog) Size() (int64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat data log: %w", err)
	}
	return info.Size(), nil
}

// AppendAt writes buf at the given absolute offset and returns that offset.
func (d *DataLog) AppendAt(buf []byte, offset int64) (int64, error) {
	if _, err := d.file.WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("failed to append %d bytes at %d: %w", len(buf), offset, err)
	}
	return offset, nil
}

// ReadExact returns exactly size bytes starting at offset.
func (d *DataLog) ReadExact(offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := d.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read %d bytes at %d: %w", size, offset, err)
	}
	if int64(n) != size {
		return nil, fmt.Errorf("%w: wanted %d bytes at %d, got %d", ErrShortRead, size, offset, n)
	}
	return buf, nil
}

func (d *DataLog) Truncate() error {
	if err := d.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate data log: %w", err)
	}
	return nil
}

// Reopen swaps the underlying descriptor for the file now at path. Used after
// compaction renames the rewritten log over the old one.
func (d *DataLog) Reopen(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen data log: %w", err)
	}
	d.file.Close()
	d.file = file
	d.path = path
	return nil
}

func (d *DataLog) Sync() error {
	return d.file.Sync()
}

func (d *DataLog) Close() error {
	return d.file.Close()
}

func (d *DataLog) Path() string {
	return d.path
}
