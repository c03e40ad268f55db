package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/infra"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrStopped is returned by Submit once the sequencer loop has exited.
var ErrStopped = errors.New("sequencer stopped")

const recentSize = 32

// Executor runs settlement commands. *settlement.Engine implements it.
type Executor interface {
	Settle(ctx context.Context, caller common.Address, req domain.SettleRequest) error
	ReceiveValue(ctx context.Context, sender common.Address, amount *uint256.Int) error
}

// Command is a unit of work for the sequencer.
type Command interface {
	Kind() string
}

// SettleCommand asks for one settlement on behalf of Caller.
type SettleCommand struct {
	Caller  common.Address
	Request domain.SettleRequest
}

func (SettleCommand) Kind() string { return "settle" }

// ReceiveCommand records an unsolicited value transfer.
type ReceiveCommand struct {
	Sender common.Address
	Amount *uint256.Int
}

func (ReceiveCommand) Kind() string { return "receive" }

type submission struct {
	ctx   context.Context
	cmd   Command
	taken chan struct{} // closed once the loop dequeued it
	reply chan error
}

// CommandRecord is the outcome of one processed command, kept for dumps.
type CommandRecord struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Caller    string `json:"caller"`
	VaultID   string `json:"vault_id,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyNs int64  `json:"latency_ns"`
}

// Sequencer is the single-threaded command processor. Settlements are
// executed one at a time in arrival order, each under its own sequence number.
type Sequencer struct {
	inbox    chan *submission
	done     chan struct{}
	executor Executor
	metrics  *infra.Metrics
	dumpPath string

	nextSeq uint64
	recent  []CommandRecord

	mu     sync.RWMutex // Used only for external reads
	logger *slog.Logger
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(inboxSize int, executor Executor, metrics *infra.Metrics) *Sequencer {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Sequencer{
		inbox:    make(chan *submission, inboxSize),
		done:     make(chan struct{}),
		executor: executor,
		metrics:  metrics,
		dumpPath: "panic_dump.json",
		nextSeq:  1,
		logger:   slog.Default().With("module", "sequencer"),
	}
}

// Submit enqueues cmd and waits for its result. Once the loop has taken the
// command, its outcome is final and is returned even if ctx ends meanwhile.
func (s *Sequencer) Submit(ctx context.Context, cmd Command) error {
	sub := &submission{ctx: ctx, cmd: cmd, taken: make(chan struct{}), reply: make(chan error, 1)}

	select {
	case s.inbox <- sub:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}

	select {
	case err := <-sub.reply:
		return err
	case <-s.done:
	case <-ctx.Done():
		select {
		case <-sub.taken:
		default:
			return ctx.Err()
		}
	}

	select {
	case err := <-sub.reply:
		return err
	case <-s.done:
		select {
		case err := <-sub.reply:
			return err
		default:
			return ErrStopped
		}
	}
}

// Run starts the main command loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("Sequencer started")

	defer func() {
		close(s.done)
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			// Halt after dump.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			return
		case sub := <-s.inbox:
			close(sub.taken)
			sub.reply <- s.process(sub)
		}
	}
}

func (s *Sequencer) process(sub *submission) error {
	// Caller gave up before we got to it
	if err := sub.ctx.Err(); err != nil {
		return err
	}

	seq := s.nextSeq
	start := time.Now()
	rec := CommandRecord{Seq: seq, Kind: sub.cmd.Kind()}

	var err error
	switch c := sub.cmd.(type) {
	case SettleCommand:
		rec.Caller = c.Caller.Hex()
		if c.Request.VaultID != nil {
			rec.VaultID = c.Request.VaultID.Dec()
		}
		err = s.executor.Settle(sub.ctx, c.Caller, c.Request)
		s.metrics.RecordSettlement(time.Since(start).Nanoseconds(), err)
	case ReceiveCommand:
		rec.Caller = c.Sender.Hex()
		err = s.executor.ReceiveValue(sub.ctx, c.Sender, c.Amount)
		if err == nil {
			s.metrics.RecordValueReceived()
		} else {
			s.metrics.RecordError()
		}
	default:
		err = fmt.Errorf("unknown command %T", sub.cmd)
		s.logger.Warn("Unknown command type", slog.String("kind", sub.cmd.Kind()))
	}

	rec.LatencyNs = time.Since(start).Nanoseconds()
	if err != nil {
		rec.Error = err.Error()
	}

	s.mu.Lock()
	s.recent = append(s.recent, rec)
	if len(s.recent) > recentSize {
		s.recent = s.recent[len(s.recent)-recentSize:]
	}
	s.nextSeq++
	s.mu.Unlock()

	s.logger.Debug("Command processed",
		slog.Uint64("seq", seq),
		slog.String("kind", rec.Kind),
		slog.Duration("latency", time.Duration(rec.LatencyNs)),
	)
	return err
}

// NextSeq returns the sequence number the next command will get (external read).
func (s *Sequencer) NextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

// Recent returns a copy of the most recently processed commands, oldest first.
func (s *Sequencer) Recent() []CommandRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CommandRecord, len(s.recent))
	copy(out, s.recent)
	return out
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64          `json:"next_seq"`
		Pending int             `json:"pending"`
		Recent  []CommandRecord `json:"recent"`
	}{
		NextSeq: s.NextSeq(),
		Pending: len(s.inbox),
		Recent:  s.Recent(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
