package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	persistlog "digtick.dev/internal/persistence/log"
	"digtick.dev/internal/persistence/snapshot"
	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/mining/breaktime"
	"digtick.dev/internal/sim/tuning"
	"digtick.dev/internal/sim/world"
	"digtick.dev/internal/transport/observer"
	"digtick.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", 0, "override the world seed from tuning (0 keeps it)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite break index")
		actRate    = flag.Float64("act_rate", 40, "max ACTs per second per connection")
		snapPath   = flag.String("snapshot", "", "snapshot to load (default: newest in <data>/snapshots)")
		snapKeep   = flag.Int("snapshot_keep", 5, "snapshots to keep on disk (0 keeps all)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.World.Seed = *seed
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	w := world.New(world.WorldConfig{
		TickRateHz:   tune.TickRateHz,
		GroundY:      tune.World.GroundY,
		StoneDepth:   tune.World.StoneDepth,
		Seed:         tune.World.Seed,
		StarterItems: tune.World.StarterItems,

		SnapshotEveryTicks: tune.World.SnapshotEveryTicks,
	}, cats, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))

	metrics := mining.MustNewMetrics(prometheus.DefaultRegisterer)
	sched, err := mining.NewScheduler(mining.Options{
		Port:               w,
		Commit:             w.Commit,
		Sync:               w,
		Calculator:         breaktime.New(cats, tune.ModifierConfig()),
		Limits:             tune.Limits(),
		SaveProgress:       tune.Mining.SaveProgress,
		BroadcastAnimation: tune.Mining.BroadcastAnimation,
		TickRateHz:         tune.TickRateHz,
		Logger:             log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds),
		Metrics:            metrics,
	})
	if err != nil {
		logger.Fatalf("mining: %v", err)
	}
	w.AttachMining(sched)

	snapDir := filepath.Join(*dataDir, "snapshots")
	if err := restoreSnapshot(w, snapDir, *snapPath, logger); err != nil {
		logger.Fatalf("restore snapshot: %v", err)
	}
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)

	breakLog := persistlog.NewBreakLogger(*dataDir)
	defer breakLog.Close()
	w.AddSink(breakLog)

	idx, err := openBreakIndex(*dataDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open break index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(context.Background(), *configDir, cats, tune); err != nil {
			logger.Printf("break index: upsert catalogs: %v", err)
		}
		w.AddSink(idx)
	}
	registerWorldGauges(prometheus.DefaultRegisterer, w, idx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/v1/state", adminState(w, sched, idx))
	if envBool("DIG_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (DIG_ENABLE_PPROF_HTTP=false)")
	}
	obs := observer.NewServer(w, sched, cats.Materials.IDs, log.New(os.Stdout, "[observer] ", log.LstdFlags))
	mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/ws", ws.NewServer(w, log.New(os.Stdout, "[ws] ", log.LstdFlags), ws.Options{ActsPerSecond: *actRate}).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// The writer outlives ctx so the shutdown snapshot emitted by Run is saved.
	snapDone := make(chan error, 1)
	go func() {
		snapDone <- snapshot.Writer{Dir: snapDir, Keep: *snapKeep, Logger: logger}.Run(context.Background(), snapCh)
	}()

	g.Go(func() error {
		defer close(snapCh)
		return ignoreCanceled(w.Run(ctx))
	})
	g.Go(func() error { return ignoreCanceled(sched.Run(ctx)) })
	g.Go(func() error {
		logger.Printf("listening on %s tick_rate=%d grace_ticks=%d ceiling_ticks=%d", *addr, tune.TickRateHz, tune.GraceTicks(), tune.CeilingTicks())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}
	<-snapDone
	logger.Printf("shutdown complete tick=%d", w.CurrentTick())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func registerWorldGauges(reg prometheus.Registerer, w *world.World, idx breakIndex) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "digtick_world_tick",
			Help: "Current world tick.",
		}, func() float64 { return float64(w.CurrentTick()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "digtick_world_clients",
			Help: "Connected clients.",
		}, func() float64 { return float64(w.Clients()) }),
	)
	if idx == nil {
		return
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "digtick_index_queue_depth",
			Help: "Break index writer backlog.",
		}, func() float64 { return float64(idx.Stats().QueueDepth) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "digtick_index_dropped_total",
			Help: "Break records dropped because the index queue was full.",
		}, func() float64 { return float64(idx.Stats().DropBreakTotal) }),
	)
}

func adminState(w *world.World, sched *mining.Scheduler, idx breakIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := struct {
			Tick    uint64         `json:"tick"`
			Clients int            `json:"clients"`
			Mining  mining.Stats   `json:"mining"`
			Index   *indexSnapshot `json:"index,omitempty"`
		}{
			Tick:    w.CurrentTick(),
			Clients: w.Clients(),
			Mining:  sched.Stats(),
		}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &indexSnapshot{QueueDepth: st.QueueDepth, Written: st.WrittenTotal, Dropped: st.DropBreakTotal, Failed: st.WriteFailTotal}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

type indexSnapshot struct {
	QueueDepth int    `json:"queue_depth"`
	Written    uint64 `json:"written"`
	Dropped    uint64 `json:"dropped"`
	Failed     uint64 `json:"failed"`
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
