// Package city hosts the authoritative simulation context: one grid, its
// field simulator, the zone lifecycle, the ledger and the development clock,
// all driven from a single goroutine.
package city

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/fields"
	"microcity.dev/internal/sim/grid"
	"microcity.dev/internal/sim/ledger"
	"microcity.dev/internal/sim/sched"
	"microcity.dev/internal/sim/tuning"
	"microcity.dev/internal/sim/zones"
)

type Config struct {
	ID   string
	Seed int64
	// Generate lays out terrain with Seed on creation; otherwise the city
	// starts as an all-grass grid.
	Generate bool

	Tuning tuning.Tuning
	Logger *log.Logger

	// ClockPoll is how often Run feeds real elapsed time into the
	// development clock.
	ClockPoll time.Duration
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "city_" + uuid.NewString()[:8]
	}
	if c.Tuning.TickRateHz <= 0 {
		c.Tuning = tuning.Defaults()
	}
	if c.ClockPoll <= 0 {
		c.ClockPoll = 100 * time.Millisecond
	}
}

type CommandRequest struct {
	Actor string
	Cmd   protocol.CommandMsg
	Resp  chan protocol.ResultMsg
}

type JoinRequest struct {
	SessionID string
	Out       chan []byte
	Resp      chan protocol.StateMsg
}

// City is a single-threaded authoritative simulation.
// All state must be accessed only from the city loop goroutine.
type City struct {
	cfg  Config
	cats *catalogs.Catalogs

	tick  atomic.Uint64
	clock *sched.Queue
	rng   *rand.Rand

	grid   *grid.Grid
	fields *fields.Simulator
	zones  *zones.Lifecycle
	ledger *ledger.Ledger

	// actor is attributed to grid changes made while a command is applied.
	actor    string
	recorded []RecordedCommand

	clients map[string]chan []byte

	commands chan CommandRequest
	queries  chan SnapshotRequest
	join     chan JoinRequest
	leave    chan string
	stop     chan struct{}

	tickLogger  TickLogger
	auditLogger AuditLogger

	metrics atomic.Pointer[protocol.Metrics]
	digest  atomic.Pointer[string]

	log *log.Logger
}

func New(cfg Config, cats *catalogs.Catalogs) (*City, error) {
	cfg.applyDefaults()
	if cats == nil {
		return nil, fmt.Errorf("city: nil catalogs")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	t := cfg.Tuning

	c := &City{
		cfg:      cfg,
		cats:     cats,
		clock:    sched.NewQueue(),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		actor:    "system",
		clients:  map[string]chan []byte{},
		commands: make(chan CommandRequest, 256),
		queries:  make(chan SnapshotRequest, 64),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		stop:     make(chan struct{}),
		log:      cfg.Logger,
	}

	g, err := grid.New(&cats.Tiles, grid.Options{
		Width:         t.Grid.Width,
		Height:        t.Grid.Height,
		BaseTileValue: t.LandValue.Base,
		Timers:        c.clock,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.grid = g
	c.fields = fields.New(g, t.Pollution, t.LandValue)
	c.zones = zones.New(g, t.Zones, t.Development, t.LandValue.Max, c.clock, c.rng)
	c.ledger = ledger.New(t.Tax, t.Economy.StartingBudget)
	g.SetChangeHook(c.onTileChange)

	if cfg.Generate {
		c.generate(cfg.Seed)
	}
	c.publish()
	return c, nil
}

func (c *City) SetTickLogger(l TickLogger)   { c.tickLogger = l }
func (c *City) SetAuditLogger(l AuditLogger) { c.auditLogger = l }

func (c *City) Commands() chan<- CommandRequest { return c.commands }
func (c *City) Queries() chan<- SnapshotRequest { return c.queries }
func (c *City) Join() chan<- JoinRequest        { return c.join }
func (c *City) Leave() chan<- string            { return c.leave }

func (c *City) ID() string            { return c.cfg.ID }
func (c *City) Tuning() tuning.Tuning { return c.cfg.Tuning }
func (c *City) CurrentTick() uint64   { return c.tick.Load() }

func (c *City) Catalog() *catalogs.TileCatalog { return &c.cats.Tiles }

// Grid exposes the simulation grid; only safe from the city goroutine or
// when Run is not active.
func (c *City) Grid() *grid.Grid { return c.grid }

// LatestMetrics is safe to call from any goroutine.
func (c *City) LatestMetrics() protocol.Metrics {
	if m := c.metrics.Load(); m != nil {
		return *m
	}
	return protocol.Metrics{}
}

// LatestDigest is the state digest published after the last tick.
func (c *City) LatestDigest() string {
	if d := c.digest.Load(); d != nil {
		return *d
	}
	return ""
}

func (c *City) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(c.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	poll := time.NewTicker(c.cfg.ClockPoll)
	defer poll.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case req := <-c.join:
			c.clients[req.SessionID] = req.Out
			req.Resp <- c.Snapshot()
		case id := <-c.leave:
			delete(c.clients, id)
		case req := <-c.commands:
			res := c.Apply(req.Actor, req.Cmd)
			if req.Resp != nil {
				req.Resp <- res
			}
		case req := <-c.queries:
			req.Resp <- c.Snapshot()
		case now := <-poll.C:
			c.AdvanceTime(now.Sub(last))
			last = now
		case <-ticker.C:
			c.RunTick()
		}
	}
}

func (c *City) Stop() { close(c.stop) }

// AdvanceTime moves the development clock forward and fires due timers.
func (c *City) AdvanceTime(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return c.clock.Advance(d)
}

// AdvanceClockTo fires every timer due up to the absolute clock reading t.
// Replays use it to reproduce recorded clock positions.
func (c *City) AdvanceClockTo(t time.Duration) int { return c.clock.AdvanceTo(t) }

func (c *City) ClockNow() time.Duration { return c.clock.Now() }

func (c *City) onTileChange(x, y int, from, to *catalogs.TileDef, reason string) {
	if to.IsTerrain || to.IsObstacle {
		c.fields.ClearCell(x, y)
	}
	if c.auditLogger == nil {
		return
	}
	e := AuditEntry{
		Tick:   c.tick.Load(),
		Actor:  c.actor,
		Action: "SET_TILE",
		Pos:    [2]int{x, y},
		To:     to.ID,
		Reason: reason,
	}
	if from != nil {
		e.From = from.ID
	}
	if err := c.auditLogger.WriteAudit(e); err != nil {
		c.logf("audit write failed: %v", err)
	}
}

func (c *City) logf(format string, args ...any) {
	if c.log == nil {
		return
	}
	c.log.Printf(format, args...)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
