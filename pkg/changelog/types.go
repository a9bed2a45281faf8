// Package changelog persists simulated commits to an append-only,
// snappy-compressed log so a batch load can be audited or replayed.
package changelog

import (
	"bufio"
	"errors"
	"os"
	"sync"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
)

// FileName is the log file created inside the log directory
const FileName = "changelog.log"

// recordKind tags the payload encoding of a record
type recordKind uint8

const kindCommitJSON recordKind = 1

var (
	ErrChecksumMismatch = errors.New("changelog checksum mismatch")
	ErrTruncatedRecord  = errors.New("changelog record truncated")
	ErrUnknownRecord    = errors.New("unknown changelog record kind")
	ErrLogClosed        = errors.New("changelog is closed")
)

// Record is one logged commit
type Record struct {
	LSN       uint64
	Timestamp int64 // unix seconds when the record was appended
	Event     batchtx.CommitEvent
}

// Log is an append-only file of commit records.
// Format per record: [LSN:8][Kind:1][DataLen:4][Data:N][Checksum:4][Timestamp:8]
// where Data is snappy-compressed JSON and Checksum covers Data.
type Log struct {
	file       *os.File
	writer     *bufio.Writer
	currentLSN uint64
	path       string
	closed     bool
	mu         sync.Mutex
	logger     logging.Logger

	// Statistics
	totalWrites       uint64
	bytesUncompressed uint64
	bytesCompressed   uint64
}

// Stats holds compression statistics
type Stats struct {
	TotalWrites       uint64
	BytesUncompressed uint64
	BytesCompressed   uint64
	CompressionRatio  float64 // e.g., 0.75 = 75% compression
}
