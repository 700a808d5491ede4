// Package handoff implements the one-shot tokens the workers pass to each other.
//
// The hand-off graph is fixed:
//
//	Control --ControlToBuy-->  Buy
//	Control --ControlToSell--> Sell
//	Sell    --SellToBuy-->     Buy      (initial sell orders armed, buys may run)
//	Buy     --BuyToSell-->     Sell     (buys executed, escalation may run)
//	Sell    --SellToControl--> Control  (cycle complete, refresh may run)
package handoff

import (
	"context"
	"errors"
)

var (
	// ErrStopped is returned when a wait or send is abandoned because the context was cancelled.
	ErrStopped = errors.New("handoff: stopped")
	// ErrPending is returned by Send when the previous token has not been consumed yet.
	ErrPending = errors.New("handoff: token already pending")
)

// Signal carries a single unit token from one worker to another.
// Channels are never closed; a Signal lives for the whole process.
type Signal struct {
	name string
	ch   chan struct{}
}

// NewSignal creates a Signal with room for one pending token.
func NewSignal(name string) *Signal {
	return &Signal{name: name, ch: make(chan struct{}, 1)}
}

// Name returns the edge name, used in logs.
func (s *Signal) Name() string {
	return s.name
}

// Send deposits a token without blocking.
func (s *Signal) Send(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
		return ErrPending
	}
}

// Wait blocks until a token arrives or ctx is done. There is no timeout.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

// Graph holds every edge of the hand-off graph.
type Graph struct {
	ControlToBuy  *Signal
	ControlToSell *Signal
	SellToBuy     *Signal
	BuyToSell     *Signal
	SellToControl *Signal
}

// NewGraph creates the five hand-off signals.
func NewGraph() *Graph {
	return &Graph{
		ControlToBuy:  NewSignal("control->buy"),
		ControlToSell: NewSignal("control->sell"),
		SellToBuy:     NewSignal("sell->buy"),
		BuyToSell:     NewSignal("buy->sell"),
		SellToControl: NewSignal("sell->control"),
	}
}
