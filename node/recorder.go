package node

import (
	"errors"

	"github.com/thinkpilot/nodeflow/metricgroup"
	"github.com/thinkpilot/nodeflow/records"
)

// Recorder is handed to a hook to store the readings of its metric group.
type Recorder struct {
	groups    *metricgroup.Manager
	group     records.Group
	observer  Observer
	uploadNow bool
}

// Group is the metric group the hook is recording for.
func (r *Recorder) Group() records.Group { return r.group }

// AddRecord stores `data` as one entry. If the group's region is full the entry is dropped and an error wrapping
// metricgroup.ErrOverflow is returned.
func (r *Recorder) AddRecord(data []byte) error {
	err := r.groups.AddRecord(r.group, data)
	if errors.Is(err, metricgroup.ErrOverflow) {
		r.observer.OverflowDropped(r.group.String())
	}
	return err
}

// AddSensingEntry stores a single byte entry.
func (r *Recorder) AddSensingEntry(value byte) error {
	return r.AddRecord([]byte{value})
}

// UploadNow asks for the buffered data to be sent before the node goes back to sleep.
func (r *Recorder) UploadNow() {
	r.uploadNow = true
}
