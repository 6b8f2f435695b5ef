package supabase

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// supabaseUplink holds the json encoding schema for a transmitted block in supabase.
type supabaseUplink struct {
	ID      uuid.UUID `json:"id"`
	Time    time.Time `json:"time"`
	NodeID  uuid.UUID `json:"node_id"`
	Payload string    `json:"payload"`
	Size    int       `json:"size"`
}

// supabaseDownlink holds the json encoding schema for a queued downlink command.
type supabaseDownlink struct {
	ID      uuid.UUID `json:"id"`
	Time    time.Time `json:"time"`
	NodeID  uuid.UUID `json:"node_id"`
	Payload string    `json:"payload"`
}

// Payloads are stored hex encoded so they can be read in the table editor.
func encodePayload(b []byte) string {
	return hex.EncodeToString(b)
}

func (d supabaseDownlink) decode() ([]byte, error) {
	b, err := hex.DecodeString(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode downlink %s: %w", d.ID, err)
	}
	return b, nil
}
