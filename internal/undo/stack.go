// Package undo coordinates undoable checkpoints across models that share one
// linear history, such as the DOM models of several targets.
package undo

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// Model is anything that can checkpoint, undo and redo its own edits on the
// backend.
type Model interface {
	MarkUndoableState(ctx context.Context) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
}

// Stack is a single history of major checkpoints. index points one past the
// current position; entries at or beyond index are the redo history.
type Stack struct {
	mu    sync.Mutex
	stack []Model
	index int
	// Model whose last checkpoint was minor and has not reached the backend.
	minor Model
}

func NewStack() *Stack {
	return &Stack{}
}

// MarkUndoableState records a checkpoint for m. Consecutive minor checkpoints
// of the same model share one entry; their backend mark is deferred until a
// major checkpoint or a different model flushes it.
func (s *Stack) MarkUndoableState(ctx context.Context, m Model, minor bool) error {
	s.mu.Lock()
	var flush Model
	if s.minor != nil && s.minor != m {
		flush = s.minor
		s.minor = nil
	}
	if minor && s.minor == m {
		s.mu.Unlock()
		return nil
	}
	s.stack = append(s.stack[:s.index], m)
	s.index = len(s.stack)
	if minor {
		s.minor = m
	} else {
		s.minor = nil
	}
	depth := len(s.stack)
	s.mu.Unlock()

	log.Trace().Bool("minor", minor).Int("depth", depth).Msg("undo: checkpoint")
	if flush != nil {
		if err := flush.MarkUndoableState(ctx); err != nil {
			return err
		}
	}
	if minor {
		return nil
	}
	return m.MarkUndoableState(ctx)
}

// Undo steps back one entry and undoes it on its model. It is a no-op at the
// bottom of the stack.
func (s *Stack) Undo(ctx context.Context) error {
	s.mu.Lock()
	if s.index == 0 {
		s.mu.Unlock()
		return nil
	}
	s.index--
	s.minor = nil
	m := s.stack[s.index]
	s.mu.Unlock()
	return m.Undo(ctx)
}

// Redo re-applies the entry at the current position. It is a no-op at the
// top of the stack.
func (s *Stack) Redo(ctx context.Context) error {
	s.mu.Lock()
	if s.index >= len(s.stack) {
		s.mu.Unlock()
		return nil
	}
	s.index++
	s.minor = nil
	m := s.stack[s.index-1]
	s.mu.Unlock()
	return m.Redo(ctx)
}

// Dispose drops every entry of m, keeping the index on the same logical
// position.
func (s *Stack) Dispose(m Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shift := 0
	for _, e := range s.stack[:s.index] {
		if e == m {
			shift++
		}
	}
	s.stack = slices.DeleteFunc(s.stack, func(e Model) bool { return e == m })
	s.index -= shift
	if s.minor == m {
		s.minor = nil
	}
	log.Debug().Int("removed", shift).Int("depth", len(s.stack)).Msg("undo: model disposed")
}

// Len returns the number of entries, including the redo history.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// Index returns the position one past the current entry.
func (s *Stack) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Stack) CanUndo() bool { return s.Index() > 0 }

func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index < len(s.stack)
}
