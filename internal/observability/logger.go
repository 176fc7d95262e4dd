package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arcadenet/arcadectl/internal/logging"
)

// InitLogger builds the daemon's app-scoped logger from the runtime logging
// profile, honoring ARCADECTL_LOG_* overrides, and installs it as the global
// logger.
func InitLogger(app string) zerolog.Logger {
	cfg := logging.Resolve(logging.ProfileRuntime)
	zerolog.SetGlobalLevel(cfg.Level)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}
	ctx := zerolog.New(output).With().Str("app", app)
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
