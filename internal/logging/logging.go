// Package logging provides the process-wide structured logger. Unlike the
// teacher's category-file system, the daemon has one long-lived component: a
// zap.Logger, with per-subsystem children obtained via Named. Build output
// (the text a script or task writes) is not logging — it goes through the
// blob-backed build log in internal/evaluator.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init builds the process-wide logger. debug raises the level to Debug and
// switches to the development encoder, mirroring cmd/tangramd's --verbose
// flag (ground: teacher cmd/nerd/main.go PersistentPreRunE).
func Init(debug bool) error {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	root = l
	mu.Unlock()
	return nil
}

// Named returns a child logger scoped to component (e.g. "store", "evaluator",
// "sandbox.linux").
func Named(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(component)
}

// Sync flushes the root logger. Call from the daemon's shutdown path.
func Sync() {
	mu.RLock()
	l := root
	mu.RUnlock()
	_ = l.Sync()
}
