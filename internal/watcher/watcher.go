// Package watcher implements the async file-change watcher Nucleus treats
// as an external collaborator (spec.md §1, §4.10). Grounded on
// tunde010120-vibeauracle/internal/watcher, the one example repo in the
// corpus that wires fsnotify for exactly this role: watching a config
// directory and surfacing change events asynchronously.
package watcher

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Op mirrors fsnotify.Op's bit flags.
type Op = fsnotify.Op

// Event is one filesystem change notification.
type Event struct {
	Path string
	Op   Op
}

// Watch starts watching dir (non-recursively) and returns a channel of
// Events. The channel is closed when ctx-independent Stop is called via the
// returned stop function, or when the underlying watcher errors out fatally.
func Watch(dir string) (<-chan Event, func() error, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				events <- Event{Path: ev.Name, Op: ev.Op}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Printf("[watcher] %v", err)
			}
		}
	}()

	return events, fsw.Close, nil
}
