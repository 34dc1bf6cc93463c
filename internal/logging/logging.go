// Package logging provides category-scoped loggers for pairpilot, built on
// zap. Each subsystem logs through its own named logger; categories can be
// silenced individually and the whole tree can run at debug level.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a subsystem logger.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup and wiring
	CategoryStore     Category = "store"     // context store operations
	CategoryRetrieval Category = "retrieval" // retrieval and ranking
	CategoryEmbedding Category = "embedding" // embedding engine
	CategoryInference Category = "inference" // model provider calls
	CategoryScoring   Category = "scoring"   // confidence scoring
	CategoryGate      Category = "gate"      // gate controller transitions
	CategorySession   Category = "session"   // session store
	CategoryWatcher   Category = "watcher"   // file watcher
	CategoryEngine    Category = "engine"    // engine facade
)

// Options controls logger construction. Mirrors config.LoggingConfig to avoid
// a circular import with internal/config.
type Options struct {
	Debug      bool            // debug level everywhere
	JSON       bool            // JSON encoding instead of console
	Dir        string          // when set, also write to <Dir>/pairpilot.log
	Categories map[string]bool // explicit per-category enable; empty = all on
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	opts    Options
	loggers = map[Category]*zap.SugaredLogger{}
	nop     = zap.NewNop().Sugar()
)

// Initialize builds the root logger. Safe to call more than once; the last
// call wins. Without Initialize, Get returns no-op loggers.
func Initialize(o Options) error {
	level := zapcore.InfoLevel
	if o.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if o.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(devCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level),
	}

	if o.Dir != "" {
		if err := os.MkdirAll(o.Dir, 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(o.Dir, "pairpilot.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		fileEnc := zapcore.NewJSONEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.Lock(f), level))
	}

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(zapcore.NewTee(cores...))
	opts = o
	loggers = map[Category]*zap.SugaredLogger{}
	return nil
}

// Get returns the sugared logger for a category. Disabled categories and
// uninitialized logging both return a no-op logger, so call sites never need
// nil checks.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	if root == nil {
		return nop
	}
	if len(opts.Categories) > 0 {
		if on, ok := opts.Categories[string(cat)]; ok && !on {
			loggers[cat] = nop
			return nop
		}
	}
	l := root.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
