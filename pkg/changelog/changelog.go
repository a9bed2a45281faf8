package changelog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
)

// Open opens or creates the log in dir and recovers the last LSN. A record
// torn by a crash during Append is cut off so that appending can resume.
func Open(dir string, logger logging.Logger) (*Log, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create changelog directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	lastLSN := uint64(0)
	end, err := replay(path, func(r Record) error {
		lastLSN = r.LSN
		return nil
	})
	switch {
	case err == nil, errors.Is(err, os.ErrNotExist):
	case errors.Is(err, ErrTruncatedRecord):
		if err := os.Truncate(path, end); err != nil {
			return nil, fmt.Errorf("failed to truncate torn changelog record: %w", err)
		}
		logger.Warn("truncated torn changelog record",
			logging.Path(path),
			logging.Uint64("offset", uint64(end)),
			logging.Uint64("lsn", lastLSN),
		)
	default:
		return nil, fmt.Errorf("failed to recover changelog: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open changelog: %w", err)
	}

	l := &Log{
		file:       file,
		writer:     bufio.NewWriter(file),
		currentLSN: lastLSN,
		path:       path,
		logger:     logger.With(logging.Component("changelog"), logging.Path(path)),
	}
	l.logger.Debug("changelog opened", logging.Uint64("lsn", lastLSN))
	return l, nil
}

// Append writes ev as the next record and syncs it to disk
func (l *Log) Append(ev batchtx.CommitEvent) (uint64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to encode commit %s: %w", ev.CommitID, err)
	}
	compressed := snappy.Encode(nil, data)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLogClosed
	}

	lsn := l.currentLSN + 1
	if err := l.writeRecord(lsn, compressed, time.Now().Unix()); err != nil {
		return 0, fmt.Errorf("failed to write changelog record: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush changelog: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync changelog: %w", err)
	}

	l.currentLSN = lsn
	l.totalWrites++
	l.bytesUncompressed += uint64(len(data))
	l.bytesCompressed += uint64(len(compressed))
	return lsn, nil
}

func (l *Log) writeRecord(lsn uint64, data []byte, timestamp int64) error {
	if err := binary.Write(l.writer, binary.BigEndian, lsn); err != nil {
		return err
	}
	if err := l.writer.WriteByte(byte(kindCommitJSON)); err != nil {
		return err
	}
	if err := binary.Write(l.writer, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	if _, err := l.writer.Write(data); err != nil {
		return err
	}
	if err := binary.Write(l.writer, binary.BigEndian, crc32.ChecksumIEEE(data)); err != nil {
		return err
	}
	return binary.Write(l.writer, binary.BigEndian, timestamp)
}

// LSN returns the sequence number of the last appended record
func (l *Log) LSN() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLSN
}

// Path returns the log file path
func (l *Log) Path() string {
	return l.path
}

// Stats returns compression statistics for records appended since Open
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	ratio := 0.0
	if l.bytesUncompressed > 0 {
		ratio = 1.0 - (float64(l.bytesCompressed) / float64(l.bytesUncompressed))
	}
	return Stats{
		TotalWrites:       l.totalWrites,
		BytesUncompressed: l.bytesUncompressed,
		BytesCompressed:   l.bytesCompressed,
		CompressionRatio:  ratio,
	}
}

// Close flushes and closes the file. Closing twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return err
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// Replay calls fn for every record in the log file at path, in LSN order.
// It stops at the first error returned by fn.
func Replay(path string, fn func(Record) error) error {
	_, err := replay(path, fn)
	return err
}

// replay also returns the offset just past the last intact record
func replay(path string, fn func(Record) error) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := &countingReader{r: bufio.NewReader(file)}
	var end int64
	for {
		rec, err := readRecord(reader)
		if err == io.EOF {
			return end, nil
		}
		if err != nil {
			return end, err
		}
		end = reader.n
		if err := fn(rec); err != nil {
			return end, err
		}
	}
}

// countingReader counts the bytes consumed from r
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// ReadAll returns every record in the log file at path
func ReadAll(path string) ([]Record, error) {
	var records []Record
	err := Replay(path, func(r Record) error {
		records = append(records, r)
		return nil
	})
	return records, err
}

// readRecord returns io.EOF only on a clean record boundary
func readRecord(reader *countingReader) (Record, error) {
	var rec Record

	if err := binary.Read(reader, binary.BigEndian, &rec.LSN); err != nil {
		if err == io.EOF {
			return rec, io.EOF
		}
		return rec, truncated(err)
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return rec, truncated(err)
	}
	if recordKind(kind) != kindCommitJSON {
		return rec, fmt.Errorf("%w %d at LSN %d", ErrUnknownRecord, kind, rec.LSN)
	}

	var dataLen uint32
	if err := binary.Read(reader, binary.BigEndian, &dataLen); err != nil {
		return rec, truncated(err)
	}
	compressed := make([]byte, dataLen)
	if _, err := io.ReadFull(reader, compressed); err != nil {
		return rec, truncated(err)
	}

	var checksum uint32
	if err := binary.Read(reader, binary.BigEndian, &checksum); err != nil {
		return rec, truncated(err)
	}
	if crc32.ChecksumIEEE(compressed) != checksum {
		return rec, fmt.Errorf("%w for LSN %d", ErrChecksumMismatch, rec.LSN)
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.Timestamp); err != nil {
		return rec, truncated(err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return rec, fmt.Errorf("failed to decompress LSN %d: %w", rec.LSN, err)
	}
	if err := json.Unmarshal(data, &rec.Event); err != nil {
		return rec, fmt.Errorf("failed to decode LSN %d: %w", rec.LSN, err)
	}
	return rec, nil
}

func truncated(err error) error {
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedRecord
	}
	return err
}
