// Package configgen maintains the BrainRoot config-generation counter.
// [SUPPLEMENT] grounded on original_source/.../runtime/watcher.py, which
// bumps a generation marker whenever the runtime's config directory
// changes so long-lived processes can detect a tier/policy edit without
// restarting.
package configgen

import (
	"sync/atomic"

	"github.com/eidetic-works/nucleus-mcp/internal/watcher"
)

// Counter is bumped on every filesystem event under the watched directory.
type Counter struct {
	generation int64
	stop       func() error
}

// New returns a zero Counter not yet wired to a watcher.
func New() *Counter {
	return &Counter{}
}

// Generation returns the current generation value.
func (c *Counter) Generation() int64 {
	return atomic.LoadInt64(&c.generation)
}

// Watch starts watching dir and bumps the counter on every event. It is a
// no-op error if dir cannot be watched (e.g. missing on some platforms);
// callers should log but not fail startup on this.
func (c *Counter) Watch(dir string) error {
	events, stop, err := watcher.Watch(dir)
	if err != nil {
		return err
	}
	c.stop = stop
	go func() {
		for range events {
			atomic.AddInt64(&c.generation, 1)
		}
	}()
	return nil
}

// Stop releases the underlying watcher, if any.
func (c *Counter) Stop() error {
	if c.stop == nil {
		return nil
	}
	return c.stop()
}
