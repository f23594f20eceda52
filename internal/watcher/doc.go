// Package watcher provides change detection for a story corpus file with
// automatic debouncing.
//
// Watching is hybrid:
//   - Primary: fsnotify on the file's parent directory
//   - Fallback: polling the file's mtime and size where fsnotify fails
//     (network mounts, some container filesystems)
//
// Editors typically save by renaming a temp file over the original, which
// produces a DELETE/CREATE pair; the debouncer folds such bursts into a
// single MODIFY so one save triggers one reindex.
//
// Usage:
//
//	w, err := watcher.NewCorpusWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, "stories.jsonl") }()
//
//	for batch := range w.Events() {
//	    if watcher.AllDeletes(batch) {
//	        continue // file vanished, wait for it to come back
//	    }
//	    reindex()
//	}
package watcher
