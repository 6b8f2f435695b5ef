package radio

import (
	"context"
	"fmt"
)

// Gateway receives uplinks and holds downlinks for a node that runs on a host instead of a board.
type Gateway interface {
	UploadBlock(ctx context.Context, block []byte) error
	// FetchDownlink returns the next pending downlink, or nil if there is none.
	FetchDownlink(ctx context.Context) ([]byte, error)
}

// Emulated looks like a radio but hands blocks straight to a gateway.
type Emulated struct {
	gateway    Gateway
	maxPayload int
}

func NewEmulated(gateway Gateway, maxPayload int) *Emulated {
	if maxPayload <= 0 {
		maxPayload = DefaultLoRaWANMaxPayload
	}
	return &Emulated{
		gateway:    gateway,
		maxPayload: maxPayload,
	}
}

func (e *Emulated) Connect(ctx context.Context) error { return nil }

func (e *Emulated) Send(ctx context.Context, block []byte) (int, error) {
	if len(block) > e.maxPayload {
		return 0, fmt.Errorf("block of %d bytes exceeds max payload %d", len(block), e.maxPayload)
	}
	if err := e.gateway.UploadBlock(ctx, block); err != nil {
		return 0, fmt.Errorf("upload block: %w", err)
	}
	return len(block), nil
}

func (e *Emulated) Receive(ctx context.Context) ([]byte, error) {
	data, err := e.gateway.FetchDownlink(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch downlink: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoDownlink
	}
	return data, nil
}

func (e *Emulated) MaxPayload() int { return e.maxPayload }

func (e *Emulated) Stack() Stack { return StackEmulated }
