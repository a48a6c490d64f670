package undo

import (
	"context"

	"github.com/danmuck/cdpwire/internal/target"
)

// DOMModel drives a target's DOM agent for undo bookkeeping.
type DOMModel struct {
	target *target.Target
	agent  *target.Agent
}

func NewDOMModel(t *target.Target) *DOMModel {
	return &DOMModel{target: t, agent: t.Agent("DOM")}
}

func (m *DOMModel) Target() *target.Target { return m.target }

func (m *DOMModel) MarkUndoableState(ctx context.Context) error {
	_, err := m.agent.Call(ctx, "markUndoableState")
	return err
}

func (m *DOMModel) Undo(ctx context.Context) error {
	_, err := m.agent.Call(ctx, "undo")
	return err
}

func (m *DOMModel) Redo(ctx context.Context) error {
	_, err := m.agent.Call(ctx, "redo")
	return err
}

// Attach returns the DOM model of t and drops its entries from s once t is
// disposed or its backend is closed. Closing a backend disposes only root
// targets, so child targets are released through the loop.
func (s *Stack) Attach(t *target.Target) *DOMModel {
	m := NewDOMModel(t)
	backendDone := t.Backend().Loop().Done()
	go func() {
		select {
		case <-t.Done():
		case <-backendDone:
		}
		s.Dispose(m)
	}()
	return m
}
