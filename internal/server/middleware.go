package server

import (
	"net/http"
	"time"

	"github.com/danmuck/cdpwire/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const unmatchedRoute = "unmatched"

// quietRoutes are polled by health checks and scrapers and log at debug level.
var quietRoutes = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// inspectionLog logs and counts every request by the route it matched, the
// protocol domain it asked about and the session it filtered on. Raw paths
// never become labels so unknown URLs cannot grow the metric set.
func inspectionLog(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		domain := c.Param("domain")
		if status >= http.StatusBadRequest {
			domain = ""
		}
		elapsed := time.Since(start)
		observability.RecordInspection(server, route, domain, status, elapsed)

		log.WithLevel(requestLevel(route, status)).
			Str("route", route).
			Str("domain", domain).
			Str("session", c.Query("session")).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("server: inspection request")
	}
}

func requestLevel(route string, status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	}
	if _, quiet := quietRoutes[route]; quiet {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
