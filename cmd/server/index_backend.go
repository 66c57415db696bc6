package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"digtick.dev/internal/persistence/indexdb"
	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/tuning"
	"digtick.dev/internal/sim/world"
)

type breakIndex interface {
	world.BreakSink
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(ctx context.Context, configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
}

func openBreakIndex(dataDir string, disableDB bool, logger *log.Logger) (breakIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("DIG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "breaks.sqlite"), logger)
	default:
		return nil, fmt.Errorf("unsupported DIG_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
