package changelog

import (
	"fmt"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
)

// Writer is an observer that appends every simulated commit to a Log.
// A failed append fails the commit.
type Writer struct {
	log *Log
}

// NewWriter creates a Writer appending to log
func NewWriter(log *Log) *Writer {
	return &Writer{log: log}
}

// BeforeCommit builds the record to append
func (w *Writer) BeforeCommit(data batchtx.TransactionData) (any, error) {
	return batchtx.NewCommitEvent(data), nil
}

// AfterCommit appends the record
func (w *Writer) AfterCommit(data batchtx.TransactionData, state any) error {
	ev, ok := state.(batchtx.CommitEvent)
	if !ok {
		return fmt.Errorf("changelog: unexpected state %T", state)
	}
	lsn, err := w.log.Append(ev)
	if err != nil {
		return err
	}
	w.log.logger.Debug("commit logged",
		logging.CommitID(data.CommitID()),
		logging.Uint64("lsn", lsn),
	)
	return nil
}
