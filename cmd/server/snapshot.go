package main

import (
	"log"

	"digtick.dev/internal/persistence/snapshot"
	"digtick.dev/internal/sim/world"
)

// restoreSnapshot loads path, or the newest snapshot in dir when path is
// empty. A missing snapshot leaves the world freshly generated.
func restoreSnapshot(w *world.World, dir, path string, logger *log.Logger) error {
	if path == "" {
		latest, err := snapshot.Latest(dir)
		if err != nil {
			return err
		}
		if latest == "" {
			logger.Printf("no snapshot in %s; starting from generated terrain", dir)
			return nil
		}
		path = latest
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return err
	}
	logger.Printf("restored %s tick=%d blocks=%d", path, snap.Header.Tick, len(snap.Blocks))
	return nil
}
