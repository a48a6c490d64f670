package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/cdpwire/internal/protocol"
)

// Callback receives the error or result of a command. Exactly one of perr and
// result is meaningful; result may be nil for commands without a result.
type Callback func(perr *protocol.Error, result json.RawMessage)

// PendingCommand tracks one command awaiting its response.
type PendingCommand struct {
	ID       int64
	Domain   string
	Method   string
	Callback Callback
	SentAt   time.Time
}

// PendingTable stores a session's pending commands by message id.
type PendingTable struct {
	mu    sync.RWMutex
	items map[int64]PendingCommand
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[int64]PendingCommand),
	}
}

func (p *PendingTable) Add(item PendingCommand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[item.ID] = item
}

// Take removes and returns the command with the given id.
func (p *PendingTable) Take(id int64) (PendingCommand, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return item, ok
}

// Drain removes every pending command and returns them in id order.
func (p *PendingTable) Drain() []PendingCommand {
	p.mu.Lock()
	items := p.items
	p.items = make(map[int64]PendingCommand)
	p.mu.Unlock()
	return sortedByID(items)
}

func (p *PendingTable) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

func (p *PendingTable) List() []PendingCommand {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedByID(p.items)
}

func sortedByID(items map[int64]PendingCommand) []PendingCommand {
	out := make([]PendingCommand, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
