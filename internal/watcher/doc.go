// Package watcher reports changes to memory files under a directory.
//
// A HybridWatcher uses fsnotify and falls back to polling where inotify is
// unavailable (network mounts, some container volumes). Events are filtered
// by Options.Include and Options.Exclude glob patterns, hidden directories
// are skipped, and bursts of events for one path are coalesced by a
// Debouncer before being delivered in batches.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, dir) }()
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        switch ev.Operation {
//	        case watcher.OpCreate, watcher.OpModify:
//	            // reload ev.Path
//	        case watcher.OpDelete, watcher.OpRename:
//	            // drop memories loaded from ev.Path
//	        case watcher.OpConfigChange:
//	            // reload configuration
//	        }
//	    }
//	}
package watcher
