package player

import (
	"context"
	"sync"

	"github.com/jmylchreest/wsvideo/internal/loop"
)

var defaultManager = sync.OnceValue(func() *Manager {
	lp := loop.New()
	go func() { _ = lp.Run(context.Background()) }()
	return New(lp, DefaultOptions())
})

// Default returns the process-wide manager. It is created on first use with
// default options on its own event loop and lives until the process exits.
// Use Call to operate on it from other goroutines.
func Default() *Manager {
	return defaultManager()
}
