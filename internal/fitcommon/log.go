package fitcommon

import (
	"io"
	"log/slog"
	"os"
)

// PoolLogEnv enables mempool debug traces in the tools when set to "1".
const PoolLogEnv = "STRING_LOG_POOL"

// PoolLogger returns a debug-level text logger on stderr when PoolLogEnv is
// set, and a discarding logger otherwise.
func PoolLogger() *slog.Logger {
	return poolLogger(os.Getenv(PoolLogEnv), os.Stderr)
}

func poolLogger(env string, w io.Writer) *slog.Logger {
	if env != "1" {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
