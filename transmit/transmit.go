package transmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thinkpilot/nodeflow/errtrack"
	"github.com/thinkpilot/nodeflow/metricgroup"
	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/store"
)

const (
	// MaxSendRetries is the number of attempts for a single block before the send is deferred.
	MaxSendRetries = 3
	// MaxOverwriteRetries is the number of failed send opportunities after which the buffered data is overwritten.
	MaxOverwriteRetries = 3
	// maxBlocks is the most blocks a payload can be split into, as the progress counters are 8 bits wide.
	maxBlocks = 0xFF
)

var ErrSendFailed = errors.New("send failed")

// Transport is the part of the radio used to send blocks.
type Transport interface {
	Send(ctx context.Context, block []byte) (int, error)
	MaxPayload() int
}

// IncrementClearer restarts the send cadences once buffered data has been sent.
type IncrementClearer interface {
	ClearSendIncrements() error
}

// Observer is told about block level send outcomes, e.g. for metrics.
type Observer interface {
	BlockSent(bytes int)
	BlockFailed()
	PayloadDropped()
}

type noopObserver struct{}

func (noopObserver) BlockSent(int)   {}
func (noopObserver) BlockFailed()    {}
func (noopObserver) PayloadDropped() {}

// Sender uploads the buffered metric group data in transport sized blocks.
//
// The payload is frozen on the first attempt and the number of the next block to send is persisted after every block,
// so a retry after a sleep, or after a power loss, resumes where it stopped. The payload is only released from the
// group counters once every block has been sent.
type Sender struct {
	store      store.Store
	groups     *metricgroup.Manager
	increments IncrementClearer
	errors     *errtrack.Tracker
	radio      Transport
	observer   Observer
	logger     *slog.Logger
}

func New(s store.Store, groups *metricgroup.Manager, increments IncrementClearer, tracker *errtrack.Tracker, radio Transport, observer Observer) *Sender {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Sender{
		store:      s,
		groups:     groups,
		increments: increments,
		errors:     tracker,
		radio:      radio,
		observer:   observer,
		logger:     slog.Default().With("component", "transmit"),
	}
}

// Init creates the send progress file.
func (s *Sender) Init() error {
	_, err := store.CreateOrOpen(s.store, records.SendProgressFile, records.SendProgressSize, 1)
	if err != nil {
		return fmt.Errorf("create send progress file: %w", err)
	}
	return nil
}

// Progress returns the persisted send progress.
func (s *Sender) Progress() (records.SendProgress, error) {
	var p records.SendProgress
	b, err := s.store.Read(records.SendProgressFile, 0, records.SendProgressSize)
	if err != nil {
		return p, fmt.Errorf("read send progress: %w", err)
	}
	err = p.Unmarshal(b)
	return p, err
}

func (s *Sender) writeProgress(p records.SendProgress) error {
	err := s.store.Write(records.SendProgressFile, 0, p.Marshal())
	if err != nil {
		return fmt.Errorf("write send progress: %w", err)
	}
	return nil
}

// Send uploads the buffered data. On failure the progress is kept for the next send opportunity and an error wrapping
// ErrSendFailed is returned; after MaxOverwriteRetries failed opportunities the pending payload is dropped.
func (s *Sender) Send(ctx context.Context) error {
	progress, err := s.Progress()
	if err != nil {
		return err
	}

	if !progress.InProgress() {
		progress, err = s.freeze()
		if err != nil {
			return err
		}
		if !progress.InProgress() {
			s.logger.Info("Nothing to send")
			return nil
		}
	}

	sendErr := s.SendBlocks(ctx)
	if sendErr == nil {
		s.logger.Info("Sent payload", "blocks", progress.TotalBlocks, "bytes", progress.Frozen.TotalBytes())
		return s.ClearAfterSend()
	}

	// SendBlocks has moved the block number on, re-read before counting the failed opportunity
	progress, err = s.Progress()
	if err != nil {
		return errors.Join(sendErr, err)
	}
	progress.FailedSends++
	if err := s.writeProgress(progress); err != nil {
		return errors.Join(sendErr, err)
	}
	if trackErr := s.errors.Record(sendErr); trackErr != nil {
		sendErr = errors.Join(sendErr, trackErr)
	}

	if progress.FailedSends >= MaxOverwriteRetries {
		s.logger.Warn("Dropping payload after repeated send failures", "failed_sends", progress.FailedSends, "bytes", progress.Frozen.TotalBytes())
		s.observer.PayloadDropped()
		if err := s.ClearAfterSend(); err != nil {
			return errors.Join(sendErr, err)
		}
	}
	return sendErr
}

// freeze snapshots the group counters as the payload to send and persists it as the send progress.
func (s *Sender) freeze() (records.SendProgress, error) {
	entries, err := s.groups.ReadEntriesCounter()
	if err != nil {
		return records.SendProgress{}, err
	}
	blocks, _ := DivideToBlocks(entries.TotalBytes(), s.radio.MaxPayload())
	if blocks == 0 {
		return records.SendProgress{}, nil
	}
	if blocks > maxBlocks {
		return records.SendProgress{}, fmt.Errorf("%d bytes need %d blocks, more than %d", entries.TotalBytes(), blocks, maxBlocks)
	}
	progress := records.SendProgress{
		TotalBlocks: uint8(blocks),
		Frozen:      entries,
	}
	return progress, s.writeProgress(progress)
}

// payload concatenates the frozen bytes of every group in send order.
func (s *Sender) payload(frozen records.EntriesRecord) ([]byte, error) {
	payload := make([]byte, 0, frozen.TotalBytes())
	for _, g := range records.AllGroups {
		n := int(frozen[g].Bytes)
		if n == 0 {
			continue
		}
		b, err := s.groups.ReadRegion(g, n)
		if err != nil {
			return nil, err
		}
		payload = append(payload, b...)
	}
	return payload, nil
}

// SendBlocks sends the frozen payload starting at the persisted block number, not at the first block.
func (s *Sender) SendBlocks(ctx context.Context) error {
	progress, err := s.Progress()
	if err != nil {
		return err
	}
	payload, err := s.payload(progress.Frozen)
	if err != nil {
		return err
	}
	maxPayload := s.radio.MaxPayload()

	for n := int(progress.BlockNumber); n < int(progress.TotalBlocks); n++ {
		start, end := blockBounds(n, len(payload), maxPayload)
		if start >= end {
			return fmt.Errorf("block %d of %d is empty for a %d byte payload", n+1, progress.TotalBlocks, len(payload))
		}
		block := payload[start:end]

		if err := s.sendBlock(ctx, block); err != nil {
			s.observer.BlockFailed()
			return fmt.Errorf("block %d of %d: %w", n+1, progress.TotalBlocks, err)
		}
		s.observer.BlockSent(len(block))

		progress.BlockNumber = uint8(n + 1)
		if err := s.writeProgress(progress); err != nil {
			return err
		}
		s.logger.Debug("Sent block", "block", n+1, "total_blocks", progress.TotalBlocks, "bytes", len(block))
	}
	return nil
}

func (s *Sender) sendBlock(ctx context.Context, block []byte) error {
	var lastErr error
	for attempt := 1; attempt <= MaxSendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		n, err := s.radio.Send(ctx, block)
		if err == nil && n == len(block) {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("sent %d of %d bytes", n, len(block))
		}
		lastErr = err
		s.logger.Warn("Block send attempt failed", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrSendFailed, MaxSendRetries, lastErr)
}

// ClearAfterSend releases the frozen payload from the group counters, then restarts the send cadences and clears the
// send progress, in that order. Entries buffered after the payload was frozen stay buffered for the next send. The send
// progress is written last, so a reset part way through repeats the release rather than resending the payload. Calling
// it again releases nothing more.
func (s *Sender) ClearAfterSend() error {
	progress, err := s.Progress()
	if err != nil {
		return err
	}
	if progress.InProgress() {
		if err := s.groups.Release(progress.Frozen); err != nil {
			return err
		}
	}
	if err := s.increments.ClearSendIncrements(); err != nil {
		return err
	}
	return s.writeProgress(records.SendProgress{})
}
