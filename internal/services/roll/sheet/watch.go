package sheet

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates cached sheets whenever their files change. It blocks
// until ctx is done.
func (l *Lookup) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create sheet watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch sheet dir %s: %w", l.dir, err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("sheet: watcher error: %v", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Lookup) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, Extension) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	l.Invalidate(strings.TrimSuffix(name, Extension))
}
