package node

import (
	"fmt"

	"github.com/thinkpilot/nodeflow/records"
	timeutils "github.com/thinkpilot/nodeflow/time_utils"
)

// GroupStatus is the buffered data of one metric group.
type GroupStatus struct {
	Entries  int `json:"entries"`
	Bytes    int `json:"bytes"`
	Capacity int `json:"capacity"`
}

// Status is a snapshot of the persisted node state.
type Status struct {
	Anchor            string                 `json:"anchor"`
	ConsecutiveErrors uint16                 `json:"consecutiveErrors"`
	ErrorLines        []uint16               `json:"errorLines"` // oldest first
	Groups            map[string]GroupStatus `json:"groups"`
	SendInProgress    bool                   `json:"sendInProgress"`
	SendBlock         int                    `json:"sendBlock"`
	SendBlocks        int                    `json:"sendBlocks"`
	FailedSends       int                    `json:"failedSends"`
}

// Status reads the persisted state. It only touches the store, so it may be called while the node runs when the store
// is safe for concurrent use.
func (n *Node) Status() (Status, error) {
	var status Status

	anchor, err := n.engine.Anchor()
	if err != nil {
		return status, fmt.Errorf("read anchor: %w", err)
	}
	status.Anchor = timeutils.ClockTimeFromSeconds(anchor).String()

	errRec, err := n.errors.Read()
	if err != nil {
		return status, err
	}
	status.ConsecutiveErrors = errRec.Count
	status.ErrorLines = errRec.Recent()

	entries, err := n.groups.ReadEntriesCounter()
	if err != nil {
		return status, err
	}
	status.Groups = make(map[string]GroupStatus, records.NumGroups)
	for _, g := range records.AllGroups {
		status.Groups[g.String()] = GroupStatus{
			Entries:  int(entries[g].Entries),
			Bytes:    int(entries[g].Bytes),
			Capacity: n.groups.Capacity(g),
		}
	}

	progress, err := n.sender.Progress()
	if err != nil {
		return status, err
	}
	status.SendInProgress = progress.InProgress()
	status.SendBlock = int(progress.BlockNumber)
	status.SendBlocks = int(progress.TotalBlocks)
	status.FailedSends = int(progress.FailedSends)

	return status, nil
}
