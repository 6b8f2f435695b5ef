package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// NBIoTConnectTimeout bounds the network attach, after which the modem is put into minimum functionality.
	NBIoTConnectTimeout = 5 * time.Minute
	// DefaultNBIoTMaxPayload is the largest UDP datagram sent in one block.
	DefaultNBIoTMaxPayload = 512
)

// Modem is the NB-IoT modem driver.
type Modem interface {
	PowerOn() error
	// Attach blocks until the modem is registered on the network or the context is done.
	Attach(ctx context.Context) error
	// MinimumFunctionality regresses the modem to its lowest power mode.
	MinimumFunctionality() error
	SendUDP(data []byte) (int, error)
	// ReceiveUDP returns a pending datagram, with zero length if there is none.
	ReceiveUDP() ([]byte, error)
}

// NBIoT sends blocks as UDP datagrams through an NB-IoT modem.
type NBIoT struct {
	modem          Modem
	maxPayload     int
	connectTimeout time.Duration

	shouldReconnect bool
	logger          *slog.Logger
}

func NewNBIoT(modem Modem, maxPayload int) *NBIoT {
	if maxPayload <= 0 {
		maxPayload = DefaultNBIoTMaxPayload
	}
	return &NBIoT{
		modem:           modem,
		maxPayload:      maxPayload,
		connectTimeout:  NBIoTConnectTimeout,
		shouldReconnect: true,
		logger:          slog.Default().With("radio", "nbiot"),
	}
}

// Connect powers the modem and attaches to the network, giving up after the connect timeout. On failure the modem is
// left in minimum functionality and control returns to the caller.
func (n *NBIoT) Connect(ctx context.Context) error {
	if !n.shouldReconnect {
		return nil
	}

	if err := n.modem.PowerOn(); err != nil {
		return fmt.Errorf("nbiot power on: %w", err)
	}

	attachCtx, cancel := context.WithTimeout(ctx, n.connectTimeout)
	defer cancel()
	err := n.modem.Attach(attachCtx)
	if err != nil {
		if minErr := n.modem.MinimumFunctionality(); minErr != nil {
			err = errors.Join(err, fmt.Errorf("minimum functionality: %w", minErr))
		}
		return fmt.Errorf("nbiot attach: %w", err)
	}

	n.shouldReconnect = false
	n.logger.Info("Attached to NB-IoT network")
	return nil
}

func (n *NBIoT) Send(ctx context.Context, block []byte) (int, error) {
	if err := n.Connect(ctx); err != nil {
		return 0, err
	}
	if len(block) > n.maxPayload {
		return 0, fmt.Errorf("block of %d bytes exceeds max payload %d", len(block), n.maxPayload)
	}
	sent, err := n.modem.SendUDP(block)
	if err != nil {
		n.shouldReconnect = true
		return 0, fmt.Errorf("nbiot send: %w", err)
	}
	return sent, nil
}

func (n *NBIoT) Receive(ctx context.Context) ([]byte, error) {
	if n.shouldReconnect {
		return nil, ErrNotConnected
	}
	data, err := n.modem.ReceiveUDP()
	if err != nil {
		return nil, fmt.Errorf("nbiot receive: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoDownlink
	}
	return data, nil
}

func (n *NBIoT) MaxPayload() int { return n.maxPayload }

func (n *NBIoT) Stack() Stack { return StackNBIoT }
