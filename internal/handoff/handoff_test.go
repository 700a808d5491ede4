package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendThenWait(t *testing.T) {
	s := NewSignal("a->b")
	require.NoError(t, s.Send(context.Background()))
	require.NoError(t, s.Wait(context.Background()))
}

func TestWaitBlocksUntilSend(t *testing.T) {
	s := NewSignal("a->b")
	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("wait returned before a token was sent")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, s.Send(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the token")
	}
}

func TestSecondSendIsPending(t *testing.T) {
	s := NewSignal("a->b")
	require.NoError(t, s.Send(context.Background()))
	assert.ErrorIs(t, s.Send(context.Background()), ErrPending)
}

func TestCancelledContext(t *testing.T) {
	s := NewSignal("a->b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Wait(ctx), ErrStopped)
	assert.ErrorIs(t, s.Send(ctx), ErrStopped)
}

func TestNewGraphEdgesAreDistinct(t *testing.T) {
	g := NewGraph()
	edges := []*Signal{g.ControlToBuy, g.ControlToSell, g.SellToBuy, g.BuyToSell, g.SellToControl}
	seen := map[string]bool{}
	for _, e := range edges {
		require.NotNil(t, e)
		assert.False(t, seen[e.Name()], "duplicate edge %s", e.Name())
		seen[e.Name()] = true
	}

	require.NoError(t, g.ControlToBuy.Send(context.Background()))
	assert.Len(t, g.ControlToSell.ch, 0)
}
