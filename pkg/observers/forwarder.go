package observers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
)

// DefaultSendTimeout bounds how long a commit waits for a receiver
const DefaultSendTimeout = 5 * time.Second

// Forwarder pushes every commit as JSON to a remote Receiver
type Forwarder struct {
	sock   mangos.Socket
	logger logging.Logger

	// Required makes a failed send abort the commit
	Required bool
}

// NewForwarder dials addr (e.g. "tcp://host:9400" or "inproc://name")
func NewForwarder(addr string, sendTimeout time.Duration, logger logging.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}

	sock, err := push.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create push socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, sendTimeout); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to set send deadline: %w", err)
	}
	// Dial in the background so the receiver may start later
	if err := sock.DialOptions(addr, map[string]any{mangos.OptionDialAsynch: true}); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &Forwarder{
		sock:   sock,
		logger: logger.With(logging.Component("forwarder"), logging.String("addr", addr)),
	}, nil
}

// BeforeCommit encodes the commit event
func (f *Forwarder) BeforeCommit(data batchtx.TransactionData) (any, error) {
	payload, err := json.Marshal(batchtx.NewCommitEvent(data))
	if err != nil {
		return nil, fmt.Errorf("encode commit %s: %w", data.CommitID(), err)
	}
	return payload, nil
}

// AfterCommit sends the encoded event
func (f *Forwarder) AfterCommit(data batchtx.TransactionData, state any) error {
	payload, ok := state.([]byte)
	if !ok {
		return nil
	}
	if err := f.sock.Send(payload); err != nil {
		if f.Required {
			return fmt.Errorf("forward commit %s: %w", data.CommitID(), err)
		}
		f.logger.Warn("failed to forward commit",
			logging.CommitID(data.CommitID()),
			logging.Error(err),
		)
	}
	return nil
}

// Close closes the socket
func (f *Forwarder) Close() error {
	return f.sock.Close()
}

// Receiver is the pull side of a Forwarder
type Receiver struct {
	sock mangos.Socket
}

// NewReceiver listens on addr
func NewReceiver(addr string) (*Receiver, error) {
	sock, err := pull.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create pull socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Receiver{sock: sock}, nil
}

// Receive waits for the next forwarded commit until ctx is done
func (r *Receiver) Receive(ctx context.Context) (batchtx.CommitEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return batchtx.CommitEvent{}, err
		}

		deadline := 100 * time.Millisecond
		if d, ok := ctx.Deadline(); ok && time.Until(d) < deadline {
			deadline = max(time.Until(d), time.Millisecond)
		}
		if err := r.sock.SetOption(mangos.OptionRecvDeadline, deadline); err != nil {
			return batchtx.CommitEvent{}, err
		}

		msg, err := r.sock.Recv()
		if errors.Is(err, mangos.ErrRecvTimeout) {
			continue
		}
		if err != nil {
			return batchtx.CommitEvent{}, fmt.Errorf("receive: %w", err)
		}

		var ev batchtx.CommitEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			return batchtx.CommitEvent{}, fmt.Errorf("decode commit event: %w", err)
		}
		return ev, nil
	}
}

// Close closes the socket
func (r *Receiver) Close() error {
	return r.sock.Close()
}
