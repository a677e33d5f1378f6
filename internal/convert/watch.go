package convert

import (
	"os"

	"github.com/fsnotify/fsnotify"
)

// triggerWatcher watches a single directory for any filesystem event,
// used by Run's watch mode (config field "watch") as an external "new history available"
// signal (e.g. an AccuRev post-promote hook touching a file there)
// rather than a blind fixed-interval poll.
type triggerWatcher struct {
	w *fsnotify.Watcher
}

func newTriggerWatcher(dir string) (*triggerWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &triggerWatcher{w: w}, nil
}

// Events returns a channel that receives a (discarded) value whenever
// the trigger directory changes, coalescing fsnotify's Events stream
// into one signal channel for watchLoop's select. fsnotify's Errors
// stream is drained and sends no signal.
func (t *triggerWatcher) Events() <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case _, ok := <-t.w.Events:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-t.w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

func (t *triggerWatcher) Close() error {
	return t.w.Close()
}
