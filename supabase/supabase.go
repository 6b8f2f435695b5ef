package supabase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	supa "github.com/nedpals/supabase-go"
)

const (
	supabaseRequestTimeout = time.Second * 10

	uplinkTable   = "uplinks"
	downlinkTable = "downlinks"
)

var ErrTimeout = errors.New("timed out")

// Client provides an interface onto the Supabase platform, acting as the network server of an emulated node.
// It hides the underlying open source supabase library and adds reconnection and timeout logic.
type Client struct {
	url     string
	anonKey string
	userKey string
	schema  string
	nodeID  uuid.UUID
	timeout time.Duration

	subClient       *supa.Client // the raw client of the underlying supabase library we are using
	shouldReconnect bool         // when true, the subClient is 'dirty' and will be re-created next time a read or write call is made
	now             func() time.Time
	logger          *slog.Logger
}

func New(url, anonKey, userKey, schema string, nodeID uuid.UUID) (*Client, error) {
	if url == "" {
		return nil, errors.New("supabase url is required")
	}

	client := &Client{
		url:             url,
		anonKey:         anonKey,
		userKey:         userKey,
		schema:          schema,
		nodeID:          nodeID,
		timeout:         supabaseRequestTimeout,
		shouldReconnect: true, // the connection will be made lazily on the first request to read or write
		now:             time.Now,
		logger:          slog.Default().With("host", url),
	}

	return client, nil
}

// UploadBlock stores one transmitted block in the uplink table.
func (c *Client) UploadBlock(ctx context.Context, block []byte) error {
	if err := c.reconnectIfNeccesary(); err != nil {
		return err
	}

	row := c.newUplink(block)
	return c.withTimeout(ctx, func() error {
		return c.subClient.DB.From(uplinkTable).Insert(row).Execute(nil)
	})
}

// FetchDownlink pops the oldest pending downlink queued for this node, returning nil if there is none.
func (c *Client) FetchDownlink(ctx context.Context) ([]byte, error) {
	if err := c.reconnectIfNeccesary(); err != nil {
		return nil, err
	}

	var rows []supabaseDownlink
	err := c.withTimeout(ctx, func() error {
		return c.subClient.DB.From(downlinkTable).Select("*").Eq("node_id", c.nodeID.String()).Execute(&rows)
	})
	if err != nil {
		return nil, fmt.Errorf("select downlinks: %w", err)
	}

	next, ok := oldestDownlink(rows)
	if !ok {
		return nil, nil
	}

	payload, err := next.decode()
	if err != nil {
		return nil, err
	}

	err = c.withTimeout(ctx, func() error {
		return c.subClient.DB.From(downlinkTable).Delete().Eq("id", next.ID.String()).Execute(nil)
	})
	if err != nil {
		return nil, fmt.Errorf("delete downlink %s: %w", next.ID, err)
	}

	return payload, nil
}

func (c *Client) newUplink(block []byte) supabaseUplink {
	return supabaseUplink{
		ID:      uuid.New(),
		Time:    c.now(),
		NodeID:  c.nodeID,
		Payload: encodePayload(block),
		Size:    len(block),
	}
}

// withTimeout runs fn, giving up after the client timeout or when ctx is done.
// The supabase client library doesn't have good timeout support, so calls are wrapped here.
func (c *Client) withTimeout(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()

	select {
	case <-time.After(c.timeout):
		c.setShouldReconnect()
		return ErrTimeout
	case <-ctx.Done():
		c.setShouldReconnect()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			c.setShouldReconnect()
		}
		return err
	}
}

// createSubClient creates the open-source supabase library client with sensible defaults and connects to the host.
func (c *Client) createSubClient() error {

	subClient := supa.CreateClient(c.url, c.anonKey)
	if subClient == nil {
		return fmt.Errorf("create supabase client for '%s'", c.url)
	}

	// The supabase client library doesn't have a fully featured interface, here we specify options directly by
	// adding headers to the postgrest requests.
	if c.schema != "" {
		subClient.DB.AddHeader("Accept-Profile", c.schema)
		subClient.DB.AddHeader("Content-Profile", c.schema)
	}

	// Use a user JWT:
	if c.userKey != "" {
		subClient.DB.AddHeader("Authorization", fmt.Sprintf("Bearer %s", c.userKey))
	}

	c.subClient = subClient

	return nil
}

// setShouldReconnect is called when there has been an error with the connection that should trigger a re-connect.
func (c *Client) setShouldReconnect() {
	c.shouldReconnect = true
}

// reconnectIfNeccesary re-creates the underlying client if there have been problems with the connection.
func (c *Client) reconnectIfNeccesary() error {
	if !c.shouldReconnect {
		return nil
	}

	err := c.createSubClient()
	if err != nil {
		return err
	}

	c.shouldReconnect = false

	c.logger.Info("Created supabase client")

	return nil
}

func oldestDownlink(rows []supabaseDownlink) (supabaseDownlink, bool) {
	if len(rows) == 0 {
		return supabaseDownlink{}, false
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Time.Before(rows[j].Time)
	})
	return rows[0], true
}
