package errtrack

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/store"
)

// DefaultThreshold is the number of consecutive errors after which the node should be reset.
const DefaultThreshold = 10

// ErrEscalate is wrapped by errors returned once the consecutive error count reaches the threshold.
var ErrEscalate = errors.New("consecutive error threshold reached")

// Tracker persists a count of consecutive errors and the source lines that raised them, so they survive a reset.
type Tracker struct {
	store     store.Store
	threshold uint16
	logger    *slog.Logger
}

func New(s store.Store, threshold uint16) *Tracker {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		store:     s,
		threshold: threshold,
		logger:    slog.Default().With("component", "errtrack"),
	}
}

// Init creates the error file if it does not exist yet.
func (t *Tracker) Init() error {
	_, err := store.CreateOrOpen(t.store, records.ErrorFile, records.ErrorRecordSize, 1)
	return err
}

// Read returns the persisted error record.
func (t *Tracker) Read() (records.ErrorRecord, error) {
	var rec records.ErrorRecord
	b, err := t.store.Read(records.ErrorFile, 0, records.ErrorRecordSize)
	if err != nil {
		return rec, fmt.Errorf("read error record: %w", err)
	}
	err = rec.Unmarshal(b)
	return rec, err
}

// Increment records `line` in the ring of recent error lines and bumps the consecutive count. The returned error wraps
// ErrEscalate when the threshold has been reached.
func (t *Tracker) Increment(line uint16) (uint16, error) {
	rec, err := t.Read()
	if err != nil {
		return 0, err
	}

	rec.Lines[rec.Head%records.MaxErrorLines] = line
	rec.Head = (rec.Head + 1) % records.MaxErrorLines
	if rec.Count < ^uint16(0) {
		rec.Count++
	}

	err = t.store.Write(records.ErrorFile, 0, rec.Marshal())
	if err != nil {
		return rec.Count, fmt.Errorf("write error record: %w", err)
	}

	if rec.Count >= t.threshold {
		return rec.Count, fmt.Errorf("%d errors, last at line %d: %w", rec.Count, line, ErrEscalate)
	}
	return rec.Count, nil
}

// Record logs `err` and increments the count with the source line of the caller.
func (t *Tracker) Record(err error) error {
	line := 0
	file := "unknown"
	if _, f, l, ok := runtime.Caller(1); ok {
		file, line = f, l
	}
	t.logger.Error("handled error", "error", err, "file", file, "line", line)

	_, incErr := t.Increment(uint16(line))
	return incErr
}

// Reset clears the consecutive count after a clean cycle. The ring of lines is kept for postmortem diagnosis.
func (t *Tracker) Reset() error {
	rec, err := t.Read()
	if err != nil {
		return err
	}
	if rec.Count == 0 {
		return nil
	}
	rec.Count = 0
	err = t.store.Write(records.ErrorFile, 0, rec.Marshal())
	if err != nil {
		return fmt.Errorf("write error record: %w", err)
	}
	return nil
}

// Escalate reports whether the consecutive count has reached the threshold.
func (t *Tracker) Escalate() (bool, error) {
	rec, err := t.Read()
	if err != nil {
		return false, err
	}
	return rec.Count >= t.threshold, nil
}
