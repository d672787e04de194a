package storage

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"durakv/internal/common"
)

// WriteAheadLog records index mutations between checkpoints. Each entry is
// [op u8][keyLen u32LE][key] and, for sets, [metaLen u32LE][meta JSON].
// The file is truncated to zero after every durable checkpoint.
type WriteAheadLog struct {
	file *os.File
	path string
	size int64
}

func OpenWriteAheadLog(path string) (*WriteAheadLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL: %w", err)
	}
	return &WriteAheadLog{file: file, path: path, size: info.Size()}, nil
}

// EncodeEntries serializes a batch into one contiguous buffer.
func EncodeEntries(entries []common.WALEntry) ([]byte, error) {
	metas := make([][]byte, len(entries))
	totalSize := 0
	for i := range entries {
		totalSize += 1 + 4 + len(entries[i].Key)
		if entries[i].Op == common.OpSet {
			meta, err := json.Marshal(entries[i].Meta)
			if err != nil {
				return nil, fmt.Errorf("failed to encode record metadata: %w", err)
			}
			metas[i] = meta
			totalSize += 4 + len(meta)
		}
	}

	buffer := make([]byte, totalSize)
	offset := 0
	for i := range entries {
		e := &entries[i]
		buffer[offset] = byte(e.Op)
		offset++

		binary.LittleEndian.PutUint32(buffer[offset:], uint32(len(e.Key)))
		offset += 4
		copy(buffer[offset:], e.Key)
		offset += len(e.Key)

		if e.Op == common.OpSet {
			binary.LittleEndian.PutUint32(buffer[offset:], uint32(len(metas[i])))
			offset += 4
			copy(buffer[offset:], metas[i])
			offset += len(metas[i])
		}
	}
	return buffer, nil
}

// AppendBatch writes the batch at the current end of the log and returns the
// number of bytes written. The in-memory size counter moves with it.
func (w *WriteAheadLog) AppendBatch(entries []common.WALEntry, forceSync bool) (int64, error) {
	buffer, err := EncodeEntries(entries)
	if err != nil {
		return 0, err
	}

	if _, err := w.file.Write(buffer); err != nil {
		return 0, fmt.Errorf("failed to write WAL batch: %w", err)
	}
	w.size += int64(len(buffer))

	if forceSync {
		if err := w.file.Sync(); err != nil {
			return int64(len(buffer)), fmt.Errorf("failed to sync WAL: %w", err)
		}
	}
	return int64(len(buffer)), nil
}

// Replay reads the log from the start and hands every decoded entry to the
// callback. A truncated or malformed tail stops the scan at the last good
// entry boundary; the return reports how many entries were applied and
// whether a tail was discarded.
func (w *WriteAheadLog) Replay(callback func(common.WALEntry)) (int, bool, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, false, fmt.Errorf("failed to rewind WAL: %w", err)
	}
	defer w.file.Seek(0, io.SeekEnd)

	reader := bufio.NewReader(w.file)
	replayed := 0

	for {
		entry, err := readEntry(reader)
		if err == io.EOF {
			return replayed, false, nil
		}
		if err != nil {
			// Anything else is a torn tail from a crash mid-append.
			return replayed, true, nil
		}
		callback(entry)
		replayed++
	}
}

func readEntry(reader *bufio.Reader) (entry common.WALEntry, err error) {
	opByte, err := reader.ReadByte()
	if err != nil {
		return common.WALEntry{}, err
	}
	// Past the op byte, running out of input is a torn entry, not a clean end.
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()
	op := common.ChangeOp(opByte)
	if op != common.OpSet && op != common.OpDelete {
		return common.WALEntry{}, fmt.Errorf("%w: unknown op %d", ErrMalformedEntry, opByte)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(reader, header); err != nil {
		return common.WALEntry{}, err
	}
	keyLen := binary.LittleEndian.Uint32(header)

	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, keyBuf); err != nil {
		return common.WALEntry{}, err
	}

	entry = common.WALEntry{Op: op, Key: string(keyBuf)}
	if op == common.OpDelete {
		return entry, nil
	}

	if _, err := io.ReadFull(reader, header); err != nil {
		return common.WALEntry{}, err
	}
	metaLen := binary.LittleEndian.Uint32(header)

	metaBuf := make([]byte, metaLen)
	if _, err := io.ReadFull(reader, metaBuf); err != nil {
		return common.WALEntry{}, err
	}
	if err := json.Unmarshal(metaBuf, &entry.Meta); err != nil {
		return common.WALEntry{}, fmt.Errorf("%w: bad metadata: %v", ErrMalformedEntry, err)
	}
	return entry, nil
}

// Size is the tracked length of the log.
func (w *WriteAheadLog) Size() int64 {
	return w.size
}

// StatSize re-reads the length from the filesystem, used to resynchronize the
// counter after a failed append.
func (w *WriteAheadLog) StatSize() (int64, error) {
	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat WAL: %w", err)
	}
	w.size = info.Size()
	return w.size, nil
}

// Truncate empties the log after a checkpoint commits.
func (w *WriteAheadLog) Truncate(forceSync bool) error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	w.size = 0
	if forceSync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync truncated WAL: %w", err)
		}
	}
	return nil
}

func (w *WriteAheadLog) Sync() error {
	return w.file.Sync()
}

func (w *WriteAheadLog) Close() error {
	return w.file.Close()
}

func (w *WriteAheadLog) Path() string {
	return w.path
}
