package radio

import (
	"context"
	"errors"
	"fmt"
)

// Stack identifies the radio stack a transport is built on.
type Stack int

const (
	StackUndefined Stack = iota
	StackNBIoT
	StackLoRaWAN
	StackEmulated
)

func (s Stack) String() string {
	switch s {
	case StackNBIoT:
		return "nbiot"
	case StackLoRaWAN:
		return "lorawan"
	case StackEmulated:
		return "emulated"
	}
	return "undefined"
}

// ParseStack converts the configuration name of a stack.
func ParseStack(name string) (Stack, error) {
	switch name {
	case "nbiot":
		return StackNBIoT, nil
	case "lorawan":
		return StackLoRaWAN, nil
	case "emulated":
		return StackEmulated, nil
	}
	return StackUndefined, fmt.Errorf("unknown radio stack '%s'", name)
}

var (
	ErrNotConnected = errors.New("radio not connected")
	ErrNoDownlink   = errors.New("no downlink pending")
)

// Transport is the capability the node core needs from a radio, whichever stack is fitted to the board.
type Transport interface {
	// Connect joins or attaches to the network. It is a no-op when already connected.
	Connect(ctx context.Context) error
	// Send transmits one block and returns the number of bytes accepted.
	Send(ctx context.Context, block []byte) (int, error)
	// Receive returns a pending downlink, or ErrNoDownlink.
	Receive(ctx context.Context) ([]byte, error)
	// MaxPayload is the largest block that can be sent in one transmission.
	MaxPayload() int
	Stack() Stack
}
