package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"microcity.dev/internal/persistence/indexdb"
	persistlog "microcity.dev/internal/persistence/log"
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/city"
	"microcity.dev/internal/sim/tuning"
	"microcity.dev/internal/transport/observer"
	"microcity.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		cityID     = flag.String("city", "city_1", "city id")
		seed       = flag.Int64("seed", 1337, "city seed")
		generate   = flag.Bool("generate", true, "generate terrain on start (otherwise all grass)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (tick reports + audits)")
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
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	cityDir := filepath.Join(*dataDir, "cities", *cityID)
	if err := os.MkdirAll(cityDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	c, err := city.New(city.Config{
		ID:       *cityID,
		Seed:     *seed,
		Generate: *generate,
		Tuning:   tune,
		Logger:   logger,
	}, cats)
	if err != nil {
		logger.Fatalf("city: %v", err)
	}

	run, err := persistlog.StartRun(cityDir, persistlog.CityMeta{
		CityID:      c.ID(),
		Seed:        *seed,
		Generate:    *generate,
		TilesDigest: cats.Tiles.Digest,
		Tuning:      tune,
	})
	if err != nil {
		logger.Fatalf("start run: %v", err)
	}
	defer run.Close()
	logger.Printf("run %s: %s", run.ID, run.Dir)

	// Optional read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(run.IndexPath())
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	if idx != nil {
		c.SetTickLogger(multiTickLogger{a: run, b: idx})
		c.SetAuditLogger(multiAuditLogger{a: run, b: idx})
	} else {
		c.SetTickLogger(run)
		c.SetAuditLogger(run)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := c.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("city stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, *cityID, c, idx)
	})

	obsSrv := observer.NewServer(c, logger)
	mux.HandleFunc("/v1/city/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/city/state", obsSrv.StateHandler())
	mux.HandleFunc("/v1/city", ws.NewServer(c, logger).Handler())

	if envBool("MC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (MC_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s city=%s", *addr, *cityID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// writeMetrics renders the Prometheus text exposition format by hand.
func writeMetrics(rw http.ResponseWriter, cityID string, c *city.City, idx *indexdb.SQLiteIndex) {
	m := c.LatestMetrics()

	fmt.Fprintf(rw, "# HELP microcity_tick Current city tick.\n")
	fmt.Fprintf(rw, "# TYPE microcity_tick gauge\n")
	fmt.Fprintf(rw, "microcity_tick{city=%q} %d\n", cityID, c.CurrentTick())

	fmt.Fprintf(rw, "# HELP microcity_budget Current budget.\n")
	fmt.Fprintf(rw, "# TYPE microcity_budget gauge\n")
	fmt.Fprintf(rw, "microcity_budget{city=%q} %.2f\n", cityID, m.Budget)

	fmt.Fprintf(rw, "# HELP microcity_population Population at the last settled tick.\n")
	fmt.Fprintf(rw, "# TYPE microcity_population gauge\n")
	fmt.Fprintf(rw, "microcity_population{city=%q} %d\n", cityID, m.Population)

	fmt.Fprintf(rw, "# HELP microcity_rate City-wide percentages (0..100).\n")
	fmt.Fprintf(rw, "# TYPE microcity_rate gauge\n")
	fmt.Fprintf(rw, "microcity_rate{city=%q,metric=%q} %.2f\n", cityID, "employment", m.EmploymentRate)
	fmt.Fprintf(rw, "microcity_rate{city=%q,metric=%q} %.2f\n", cityID, "satisfaction", m.Satisfaction)

	fmt.Fprintf(rw, "# HELP microcity_last_tick_money Ledger figures of the last settled tick.\n")
	fmt.Fprintf(rw, "# TYPE microcity_last_tick_money gauge\n")
	fmt.Fprintf(rw, "microcity_last_tick_money{city=%q,kind=%q} %.4f\n", cityID, "taxes", m.LastTaxes)
	fmt.Fprintf(rw, "microcity_last_tick_money{city=%q,kind=%q} %.4f\n", cityID, "costs", m.LastCosts)
	fmt.Fprintf(rw, "microcity_last_tick_money{city=%q,kind=%q} %.4f\n", cityID, "net", m.LastNet)

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP microcity_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE microcity_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "microcity_index_queue_depth{city=%q} %d\n", cityID, s.QueueDepth)
	fmt.Fprintf(rw, "microcity_index_queue_capacity{city=%q} %d\n", cityID, s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP microcity_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE microcity_index_dropped_total counter\n")
	fmt.Fprintf(rw, "microcity_index_dropped_total{city=%q,kind=%q} %d\n", cityID, "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "microcity_index_dropped_total{city=%q,kind=%q} %d\n", cityID, "audit", s.DropAuditTotal)
}

type multiTickLogger struct {
	a city.TickLogger
	b city.TickLogger
}

func (m multiTickLogger) WriteTick(entry city.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a city.AuditLogger
	b city.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry city.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
