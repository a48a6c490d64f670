package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/danmuck/cdpwire/internal/auth"
	"github.com/danmuck/cdpwire/internal/protocol/schema"
	"github.com/danmuck/cdpwire/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

type DomainInfo struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
	Events   []string `json:"events"`
}

type CommandInfo struct {
	Name      string         `json:"name"`
	Params    []schema.Param `json:"params"`
	ReplyArgs []string       `json:"replyArgs"`
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Name,
			"version": "0.1.0",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/")
	if s.token != "" {
		api.Use(auth.Middleware(auth.StaticToken{Token: s.token}))
	}

	// ?session=<id> keeps only that session and the routers that carry it.
	api.GET("/sessions", func(c *gin.Context) {
		routers := s.backend.Routers()
		snaps := make([]session.Snapshot, 0, len(routers))
		for _, r := range routers {
			snaps = append(snaps, r.Snapshot())
		}
		if id, ok := c.GetQuery("session"); ok {
			snaps = filterSession(snaps, id)
			if len(snaps) == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"routers": snaps})
	})

	api.GET("/domains", func(c *gin.Context) {
		reg := s.backend.Registry()
		names := reg.Domains()
		list := make([]DomainInfo, 0, len(names))
		for _, name := range names {
			d, _ := reg.Domain(name)
			list = append(list, describeDomain(d))
		}
		c.JSON(http.StatusOK, gin.H{"domains": list, "sealed": reg.Sealed()})
	})

	api.GET("/domains/:domain", func(c *gin.Context) {
		d, ok := s.backend.Registry().Domain(c.Param("domain"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown domain"})
			return
		}
		commands := lo.MapToSlice(d.Commands, func(_ string, cmd *schema.Command) CommandInfo {
			return CommandInfo{Name: cmd.Name, Params: cmd.Params, ReplyArgs: cmd.ReplyArgs}
		})
		sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })
		c.JSON(http.StatusOK, gin.H{
			"domain":   describeDomain(d),
			"commands": commands,
		})
	})
}

func describeDomain(d *schema.Domain) DomainInfo {
	commands := lo.Keys(d.Commands)
	events := lo.Keys(d.Events)
	sort.Strings(commands)
	sort.Strings(events)
	return DomainInfo{Name: d.Name, Commands: commands, Events: events}
}

func filterSession(snaps []session.Snapshot, id string) []session.Snapshot {
	var out []session.Snapshot
	for _, snap := range snaps {
		match := lo.Filter(snap.Sessions, func(ss session.SessionSnapshot, _ int) bool {
			return ss.SessionID == id
		})
		if len(match) == 0 {
			continue
		}
		snap.Sessions = match
		out = append(out, snap)
	}
	return out
}
