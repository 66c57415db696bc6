package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	Version = 1
	suffix  = ".snap.zst"
)

type Header struct {
	Version int    `json:"version"`
	Tick    uint64 `json:"tick"`
	Blocks  int    `json:"blocks"`
}

// SnapshotV1 holds the block edits on top of generated terrain. Terrain
// parameters are captured so a snapshot is never applied to a different world.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed       int64 `json:"seed"`
	TickRate   int   `json:"tick_rate_hz"`
	GroundY    int   `json:"ground_y"`
	StoneDepth int   `json:"stone_depth"`

	MaterialsDigest string `json:"materials_digest,omitempty"`

	Blocks []BlockV1 `json:"blocks"`
}

type BlockV1 struct {
	Pos      [3]int `json:"pos"`
	Material string `json:"material"`
}

// FileName is the name a snapshot taken at tick is stored under.
func FileName(tick uint64) string { return fmt.Sprintf("%020d%s", tick, suffix) }

// WriteSnapshot writes snap to path atomically: a temp file in the same
// directory is renamed into place once fully flushed.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snap-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	snap.Header.Version = Version
	snap.Header.Blocks = len(snap.Blocks)
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Latest returns the path of the newest snapshot in dir, or "" if there is none.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var best string
	var bestTick uint64
	for _, e := range entries {
		tick, ok := parseName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		if best == "" || tick > bestTick {
			best, bestTick = e.Name(), tick
		}
	}
	if best == "" {
		return "", nil
	}
	return filepath.Join(dir, best), nil
}

func parseName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	tick, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
	return tick, err == nil
}

// Writer persists snapshots received on its channel and keeps the newest
// Keep files.
type Writer struct {
	Dir    string
	Keep   int
	Logger *log.Logger
}

// Run writes snapshots from ch until ch is closed or ctx is done. Snapshots
// already queued when ctx ends are still written.
func (w Writer) Run(ctx context.Context, ch <-chan SnapshotV1) error {
	logger := w.Logger
	if logger == nil {
		logger = log.Default()
	}
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			w.save(logger, snap)
		case <-ctx.Done():
			for {
				select {
				case snap, ok := <-ch:
					if !ok {
						return nil
					}
					w.save(logger, snap)
				default:
					return nil
				}
			}
		}
	}
}

func (w Writer) save(logger *log.Logger, snap SnapshotV1) {
	path := filepath.Join(w.Dir, FileName(snap.Header.Tick))
	if err := WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write failed: tick=%d err=%v", snap.Header.Tick, err)
		return
	}
	logger.Printf("snapshot written: tick=%d blocks=%d path=%s", snap.Header.Tick, len(snap.Blocks), path)
	if err := Prune(w.Dir, w.Keep); err != nil {
		logger.Printf("snapshot prune failed: %v", err)
	}
}

// Prune deletes all but the newest keep snapshots. keep <= 0 keeps everything.
func Prune(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	type named struct {
		name string
		tick uint64
	}
	var snaps []named
	for _, e := range entries {
		if tick, ok := parseName(e.Name()); ok && !e.IsDir() {
			snaps = append(snaps, named{e.Name(), tick})
		}
	}
	if len(snaps) <= keep {
		return nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].tick > snaps[j].tick })
	var errs []error
	for _, s := range snaps[keep:] {
		if err := os.Remove(filepath.Join(dir, s.name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
