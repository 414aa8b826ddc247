package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noteindex/noteindex/pkg/types"
)

const (
	// DefaultIdleTimeout is how long an unlocked handle stays open
	DefaultIdleTimeout = 40 * time.Second

	// DefaultSettlePause is the wait between closing one collection and
	// opening the next
	DefaultSettlePause = 50 * time.Millisecond
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// GatewayConfig configures a Gateway
type GatewayConfig struct {
	// Root is the private storage area; one database file per collection
	Root        string
	IdleTimeout time.Duration
	SettlePause time.Duration
}

// Gateway owns the single live database handle of the process. It switches
// between named collections, counts active users and closes the handle
// after an idle period once nobody holds it.
type Gateway struct {
	cfg    GatewayConfig
	logger *zap.Logger

	initOnce sync.Once
	initErr  error

	mu         sync.Mutex
	store      *SQLiteStore
	name       string
	persistent bool
	terminated bool
	lockCount  int
	idleTimer  *time.Timer
	idleGen    uint64
}

// NewGateway creates a gateway. Nothing is opened until Acquire.
func NewGateway(cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SettlePause < 0 {
		cfg.SettlePause = 0
	}
	return &Gateway{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "gateway")),
		terminated: true,
	}
}

// initEngine runs once per process. A failure is cached and returned to
// every later caller.
func (g *Gateway) initEngine() error {
	g.initOnce.Do(func() {
		if !slices.Contains(sql.Drivers(), DriverName) {
			g.initErr = fmt.Errorf("%w: sql driver %q not registered", types.ErrInitialization, DriverName)
			return
		}
		if g.cfg.Root == "" {
			return
		}
		if err := os.MkdirAll(g.spillDir(), 0o700); err != nil {
			g.initErr = fmt.Errorf("%w: %w", types.ErrInitialization, err)
			return
		}
		g.logger.Info("storage engine initialized",
			zap.String("root", g.cfg.Root), zap.String("build_mode", BuildMode))
	})
	return g.initErr
}

func (g *Gateway) spillDir() string {
	if g.cfg.Root == "" {
		return ""
	}
	return filepath.Join(g.cfg.Root, "tmp")
}

// Acquire returns the open store for collection, switching collections if
// another one is open. Persistent collections live in one file each under
// the storage root; others are held in memory.
func (g *Gateway) Acquire(ctx context.Context, collection string, persistent bool) (*SQLiteStore, error) {
	if !collectionNamePattern.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	if err := g.initEngine(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.terminated && g.name == collection && g.persistent == persistent {
		return g.store, nil
	}

	if !g.terminated {
		g.logger.Info("switching collection", zap.String("from", g.name), zap.String("to", collection))
		g.closeLocked()
		if g.cfg.SettlePause > 0 {
			time.Sleep(g.cfg.SettlePause)
		}
	}

	path := ":memory:"
	if persistent {
		if g.cfg.Root == "" {
			return nil, fmt.Errorf("%w: no storage root for persistent collection", types.ErrInitialization)
		}
		path = filepath.Join(g.cfg.Root, collection+".db")
	}

	store, err := openStore(ctx, path, g.spillDir(), g.logger)
	if err != nil {
		return nil, err
	}

	g.store = store
	g.name = collection
	g.persistent = persistent
	g.terminated = false
	g.logger.Debug("collection opened", zap.String("collection", collection), zap.Bool("persistent", persistent))
	return store, nil
}

// closeLocked flushes and closes the open store. Failures are logged and
// swallowed. Caller must hold g.mu.
func (g *Gateway) closeLocked() {
	if g.store != nil {
		if err := g.store.Checkpoint(context.Background()); err != nil {
			g.logger.Warn("flush before close failed", zap.String("collection", g.name), zap.Error(err))
		}
		if err := g.store.Close(); err != nil {
			g.logger.Warn("close failed", zap.String("collection", g.name), zap.Error(err))
		}
	}
	g.store = nil
	g.terminated = true
}

// IsTerminated reports whether no handle is open
func (g *Gateway) IsTerminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated
}

// Durable reports whether the open collection survives a restart: it must
// be file-backed and running with a write-ahead log
func (g *Gateway) Durable(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated || !g.persistent {
		return false
	}
	mode, err := g.store.JournalMode(ctx)
	if err != nil {
		g.logger.Warn("failed to read journal mode", zap.Error(err))
		return false
	}
	return mode == "wal"
}

// Collection returns the name of the open collection, or "" when terminated
func (g *Gateway) Collection() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return ""
	}
	return g.name
}

// ForceTerminate closes the handle regardless of lock holders and forgets
// the open collection. It is safe to call when nothing is open.
func (g *Gateway) ForceTerminate() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopIdleTimerLocked()
	if !g.terminated {
		g.closeLocked()
	}
	g.lockCount = 0
	g.name = ""
	g.persistent = false
}

// Lock registers a user of the handle and cancels a pending idle shutdown
func (g *Gateway) Lock() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lockCount++
	g.stopIdleTimerLocked()
}

// Unlock releases a user. When the count reaches zero an idle shutdown is
// scheduled, replacing any earlier one.
func (g *Gateway) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lockCount > 0 {
		g.lockCount--
	}
	if g.lockCount > 0 {
		return
	}

	g.stopIdleTimerLocked()
	gen := g.idleGen
	g.idleTimer = time.AfterFunc(g.cfg.IdleTimeout, func() { g.idleShutdown(gen) })
}

// LockCount returns the number of current holders
func (g *Gateway) LockCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockCount
}

func (g *Gateway) stopIdleTimerLocked() {
	g.idleGen++
	if g.idleTimer != nil {
		g.idleTimer.Stop()
		g.idleTimer = nil
	}
}

// idleShutdown closes the handle if the timer that fired is still the
// current one and nobody has locked the gateway since
func (g *Gateway) idleShutdown(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gen != g.idleGen || g.lockCount > 0 {
		return
	}
	g.idleTimer = nil
	if !g.terminated {
		g.logger.Info("closing idle collection", zap.String("collection", g.name))
		g.closeLocked()
	}
}
