package supabase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New("http://localhost:54321", "anon", "", "nodeflow", uuid.MustParse("2a1d5b4e-6ec1-4a0e-9b59-14f4c3e0a7d2"))
	require.NoError(t, err)
	return c
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("", "anon", "", "", uuid.New())
	assert.Error(t, err)
}

func TestNewUplink(t *testing.T) {
	c := newTestClient(t)
	fixed := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	row := c.newUplink([]byte{0x01, 0xab, 0xff})
	assert.Equal(t, "01abff", row.Payload)
	assert.Equal(t, 3, row.Size)
	assert.Equal(t, fixed, row.Time)
	assert.Equal(t, c.nodeID, row.NodeID)
	assert.NotEqual(t, uuid.Nil, row.ID)
}

func TestOldestDownlink(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []supabaseDownlink{
		{ID: uuid.New(), Time: base.Add(2 * time.Minute), Payload: "02"},
		{ID: uuid.New(), Time: base, Payload: "01"},
		{ID: uuid.New(), Time: base.Add(time.Minute), Payload: "03"},
	}

	next, ok := oldestDownlink(rows)
	require.True(t, ok)
	payload, err := next.decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, payload)

	_, ok = oldestDownlink(nil)
	assert.False(t, ok)
}

func TestDecodeBadPayload(t *testing.T) {
	_, err := supabaseDownlink{Payload: "zz"}.decode()
	assert.Error(t, err)
}

func TestWithTimeout(t *testing.T) {
	t.Run("success keeps connection", func(t *testing.T) {
		c := newTestClient(t)
		c.shouldReconnect = false
		err := c.withTimeout(context.Background(), func() error { return nil })
		assert.NoError(t, err)
		assert.False(t, c.shouldReconnect)
	})

	t.Run("error marks reconnect", func(t *testing.T) {
		c := newTestClient(t)
		c.shouldReconnect = false
		failure := errors.New("503")
		err := c.withTimeout(context.Background(), func() error { return failure })
		assert.ErrorIs(t, err, failure)
		assert.True(t, c.shouldReconnect)
	})

	t.Run("slow call times out", func(t *testing.T) {
		c := newTestClient(t)
		c.shouldReconnect = false
		c.timeout = 10 * time.Millisecond
		release := make(chan struct{})
		defer close(release)
		err := c.withTimeout(context.Background(), func() error {
			<-release
			return nil
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, c.shouldReconnect)
	})

	t.Run("cancelled context", func(t *testing.T) {
		c := newTestClient(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		release := make(chan struct{})
		defer close(release)
		err := c.withTimeout(ctx, func() error {
			<-release
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
