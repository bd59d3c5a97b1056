// Package downloads keeps short-lived download links in process memory. A
// link maps a random ID to a stored artifact until it expires; an expired link
// behaves exactly like one that never existed.
package downloads

import (
	"context"
	"sync"
	"time"

	"scenerender/internal/ids"
	"scenerender/internal/pkg/errors"
)

// Link is one temporary download.
type Link struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Ext       string    `json:"ext"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Table is safe for concurrent use.
type Table struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	links map[string]Link
}

// NewTable creates a table whose links live for ttl.
func NewTable(ttl time.Duration) *Table {
	return &Table{
		ttl:   ttl,
		now:   time.Now,
		links: make(map[string]Link),
	}
}

// Mint registers a new link for filename.
func (t *Table) Mint(filename, ext string) Link {
	l := Link{
		ID:        ids.NewID(),
		Filename:  filename,
		Ext:       ext,
		ExpiresAt: t.now().Add(t.ttl),
	}
	t.mu.Lock()
	t.links[l.ID] = l
	t.mu.Unlock()
	return l
}

// Resolve returns a live link. Links may be resolved any number of times
// before they expire.
func (t *Table) Resolve(id string) (Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.links[id]
	if !ok {
		return Link{}, errors.NotFound("download link", id)
	}
	if !t.now().Before(l.ExpiresAt) {
		delete(t.links, id)
		return Link{}, errors.NotFound("download link", id)
	}
	return l, nil
}

// Len counts stored links, expired ones included until swept.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}

// Sweep drops expired links and reports how many were removed.
func (t *Table) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, l := range t.links {
		if !now.Before(l.ExpiresAt) {
			delete(t.links, id)
			n++
		}
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (t *Table) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
