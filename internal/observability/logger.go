package observability

import (
	"github.com/danmuck/cdpwire/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logging profile and returns a logger
// tagged with the component name.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	return log.Logger.With().Str("app", app).Logger()
}
