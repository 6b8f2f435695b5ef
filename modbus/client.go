package modbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/simonvetter/modbus"
)

// registerReader is the part of the underlying modbus library client that is used for polling.
type registerReader interface {
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
	Close() error
}

// Client provides an interface onto Modbus devices.
// It hides the underlying open source modbus library and provides functionality to map metrics to their assigned registers.
type Client struct {
	host    string
	unitID  uint8
	timeout time.Duration

	subClient       registerReader // the raw client of the underlying modbus library we are using
	shouldReconnect bool           // when true, the subClient is 'dirty' and will be re-created next time a read call is made
	logger          *slog.Logger
}

func NewClient(host string, unitID uint8) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("modbus host is required")
	}
	client := &Client{
		host:            host,
		unitID:          unitID,
		timeout:         2 * time.Second,
		shouldReconnect: true,
		logger:          slog.Default().With("host", host),
	}

	return client, nil
}

// Close releases the underlying connection, if there is one.
func (c *Client) Close() error {
	if c.subClient == nil {
		return nil
	}
	c.shouldReconnect = true
	return c.subClient.Close()
}

// createSubClient creates the open-source modbus library client with sensible defaults and connects to the host.
func (c *Client) createSubClient() error {
	subClient, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s", c.host),
		Timeout: c.timeout,
	})
	if err != nil {
		return fmt.Errorf("create modbus client: %w", err)
	}

	err = subClient.Open()
	if err != nil {
		return fmt.Errorf("open modbus client: %w", err)
	}

	if c.unitID != 0 {
		if err := subClient.SetUnitId(c.unitID); err != nil {
			subClient.Close()
			return fmt.Errorf("set unit id %d: %w", c.unitID, err)
		}
	}

	c.subClient = subClient

	return nil
}

// setShouldReconnect is called when there has been an error with the modbus connection that should trigger a re-connect.
func (c *Client) setShouldReconnect() {
	c.shouldReconnect = true
}

// reconnectIfNeccesary will close the old connection and reconnect if there have been problems with the connection.
func (c *Client) reconnectIfNeccesary() error {
	if !c.shouldReconnect {
		return nil
	}

	// Ignore errors from Close() as we will continue with the reconnect anyway and start a new connection.
	if c.subClient != nil {
		c.subClient.Close()
	}

	err := c.createSubClient()
	if err != nil {
		return err
	}

	c.shouldReconnect = false

	c.logger.Info("Connected modbus client")

	return nil
}
