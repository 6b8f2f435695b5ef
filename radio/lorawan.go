package radio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thinkpilot/nodeflow/records"
)

const (
	// DefaultLoRaWANPort is the application port uplinks are sent on.
	DefaultLoRaWANPort = 15
	// DefaultLoRaWANMaxPayload is the payload that fits the slowest data rate in EU868.
	DefaultLoRaWANMaxPayload = 51
)

// LoRaMAC is the LoRaWAN stack driver.
type LoRaMAC interface {
	JoinOTAA(ctx context.Context, devEUI, appEUI [8]byte, appKey [16]byte) error
	ActivateABP(devAddr uint32, netSessionKey, appSessionKey [16]byte) error
	Send(port uint8, data []byte, confirmed bool) (int, error)
	// Receive returns the last downlink, with a zero length payload if there is none.
	Receive() (port uint8, data []byte, err error)
}

// LoRaWAN sends blocks over a LoRaWAN MAC, joining lazily with the provisioned identity.
type LoRaWAN struct {
	mac        LoRaMAC
	identity   records.DeviceIdentity
	port       uint8
	maxPayload int
	confirmed  bool

	shouldReconnect bool // when true the session is 'dirty' and will be re-established before the next send
	logger          *slog.Logger
}

func NewLoRaWAN(mac LoRaMAC, identity records.DeviceIdentity, maxPayload int, confirmed bool) *LoRaWAN {
	if maxPayload <= 0 {
		maxPayload = DefaultLoRaWANMaxPayload
	}
	return &LoRaWAN{
		mac:             mac,
		identity:        identity,
		port:            DefaultLoRaWANPort,
		maxPayload:      maxPayload,
		confirmed:       confirmed,
		shouldReconnect: true,
		logger:          slog.Default().With("radio", "lorawan"),
	}
}

func (l *LoRaWAN) Connect(ctx context.Context) error {
	if !l.shouldReconnect {
		return nil
	}

	var err error
	switch l.identity.Mode {
	case records.OTAA:
		err = l.mac.JoinOTAA(ctx, l.identity.DevEUI, l.identity.AppEUI, l.identity.AppKey)
	case records.ABP:
		err = l.mac.ActivateABP(l.identity.DevAddr, l.identity.NetSessionKey, l.identity.AppSessionKey)
	default:
		err = fmt.Errorf("unknown activation mode %d", l.identity.Mode)
	}
	if err != nil {
		return fmt.Errorf("lorawan join: %w", err)
	}

	l.shouldReconnect = false
	l.logger.Info("Joined LoRaWAN network", "mode", l.identity.Mode)
	return nil
}

func (l *LoRaWAN) Send(ctx context.Context, block []byte) (int, error) {
	if err := l.Connect(ctx); err != nil {
		return 0, err
	}
	if len(block) > l.maxPayload {
		return 0, fmt.Errorf("block of %d bytes exceeds max payload %d", len(block), l.maxPayload)
	}
	n, err := l.mac.Send(l.port, block, l.confirmed)
	if err != nil {
		l.shouldReconnect = true
		return 0, fmt.Errorf("lorawan send: %w", err)
	}
	return n, nil
}

func (l *LoRaWAN) Receive(ctx context.Context) ([]byte, error) {
	if l.shouldReconnect {
		return nil, ErrNotConnected
	}
	_, data, err := l.mac.Receive()
	if err != nil {
		return nil, fmt.Errorf("lorawan receive: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoDownlink
	}
	return data, nil
}

func (l *LoRaWAN) MaxPayload() int { return l.maxPayload }

func (l *LoRaWAN) Stack() Stack { return StackLoRaWAN }
