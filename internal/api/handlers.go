package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/runner"
	"github.com/sznuper/overwatch/internal/scheduler"
	"github.com/sznuper/overwatch/internal/store"
)

type checkView struct {
	Name      string         `json:"name"`
	Target    string         `json:"target,omitempty"`
	MatchMode string         `json:"match_mode,omitempty"`
	Schedule  string         `json:"schedule,omitempty"`
	Timeout   string         `json:"timeout"`
	Enabled   bool           `json:"enabled"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func (s *Server) view(c *gin.Context, ch *check.Check) (checkView, error) {
	enabled, err := s.deps.Store.IsCheckEnabled(c.Request.Context(), ch.Name)
	if err != nil {
		return checkView{}, err
	}
	return checkView{
		Name:      ch.Name,
		Target:    ch.Target,
		MatchMode: ch.MatchMode,
		Schedule:  ch.Schedule.Spec(),
		Timeout:   ch.Timeout.String(),
		Enabled:   enabled,
		Meta:      ch.Meta,
	}, nil
}

func (s *Server) listChecks(c *gin.Context) {
	checks := s.deps.Runner.Checks()
	out := make([]checkView, 0, len(checks))
	for _, ch := range checks {
		v, err := s.view(c, ch)
		if err != nil {
			internal(c, err)
			return
		}
		out = append(out, v)
	}
	ok(c, out)
}

func (s *Server) lookup(c *gin.Context) (*check.Check, bool) {
	ch, found := s.deps.Runner.Check(c.Param("name"))
	if !found {
		notFound(c, "check "+c.Param("name"))
	}
	return ch, found
}

func (s *Server) getCheck(c *gin.Context) {
	ch, found := s.lookup(c)
	if !found {
		return
	}
	v, err := s.view(c, ch)
	if err != nil {
		internal(c, err)
		return
	}
	results, err := s.deps.Store.ListResults(c.Request.Context(), store.Filter{Check: ch.Name})
	if err != nil {
		internal(c, err)
		return
	}
	ok(c, gin.H{"check": v, "results": results})
}

func (s *Server) runCheck(c *gin.Context) {
	ch, found := s.lookup(c)
	if !found {
		return
	}
	out, err := s.deps.Runner.RunLocked(c.Request.Context(), ch.Name)
	var terr *runner.TransportError
	switch {
	case errors.As(err, &terr):
		fail(c, http.StatusBadGateway, "TRANSPORT_ERROR", terr.Error())
		return
	case err != nil:
		internal(c, err)
		return
	}
	if !out.Ran() {
		ok(c, gin.H{"skipped": out.Skipped})
		return
	}
	ok(c, gin.H{"results": out.Results, "transitions": out.Transitions})
}

func (s *Server) toggleCheck(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, found := s.lookup(c)
		if !found {
			return
		}
		if err := s.deps.Store.SetCheckEnabled(c.Request.Context(), ch.Name, enabled); err != nil {
			internal(c, err)
			return
		}
		ok(c, gin.H{"check": ch.Name, "enabled": enabled})
	}
}

func (s *Server) resetCheck(c *gin.Context) {
	ch, found := s.lookup(c)
	if !found {
		return
	}
	if err := s.deps.Store.ResetCheck(c.Request.Context(), ch.Name); err != nil {
		internal(c, err)
		return
	}
	ok(c, gin.H{"check": ch.Name, "reset": true})
}

func (s *Server) listAlerts(c *gin.Context) {
	alerts, err := s.deps.Store.ListAlerts(c.Request.Context())
	if err != nil {
		internal(c, err)
		return
	}
	ok(c, alerts)
}

type resolveRequest struct {
	Alerts []alertRef `json:"alerts" binding:"required,min=1,dive"`
}

type alertRef struct {
	Target string `json:"target" binding:"required"`
	Check  string `json:"check" binding:"required"`
}

func (s *Server) resolveAlerts(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	keys := make([]check.Key, len(req.Alerts))
	for i, a := range req.Alerts {
		keys[i] = check.Key{Target: a.Target, Check: a.Check}
	}
	resolved, err := s.deps.Runner.Resolve(c.Request.Context(), keys, user(c))
	if err != nil {
		internal(c, err)
		return
	}
	ok(c, gin.H{"resolved": resolved})
}

func (s *Server) getTarget(c *gin.Context) {
	ctx := c.Request.Context()
	target := c.Param("target")
	enabled, err := s.deps.Store.IsTargetEnabled(ctx, target)
	if err != nil {
		internal(c, err)
		return
	}
	results, err := s.deps.Store.ListResults(ctx, store.Filter{Target: target})
	if err != nil {
		internal(c, err)
		return
	}
	ok(c, gin.H{"target": target, "enabled": enabled, "results": results})
}

func (s *Server) toggleTarget(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		target := c.Param("target")
		if err := s.deps.Store.SetTargetEnabled(c.Request.Context(), target, enabled); err != nil {
			internal(c, err)
			return
		}
		ok(c, gin.H{"target": target, "enabled": enabled})
	}
}

func (s *Server) deleteTarget(c *gin.Context) {
	target := c.Param("target")
	if err := s.deps.Store.DeleteTarget(c.Request.Context(), target); err != nil {
		internal(c, err)
		return
	}
	ok(c, gin.H{"target": target, "deleted": true})
}

func (s *Server) togglePair(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, name := c.Param("target"), c.Param("check")
		if _, found := s.deps.Runner.Check(name); !found {
			notFound(c, "check "+name)
			return
		}
		if err := s.deps.Store.SetTargetCheckEnabled(c.Request.Context(), target, name, enabled); err != nil {
			internal(c, err)
			return
		}
		ok(c, gin.H{"target": target, "check": name, "enabled": enabled})
	}
}

type handlerView struct {
	Name  string `json:"name"`
	Doc   string `json:"doc"`
	Batch bool   `json:"batch"`
}

func (s *Server) listHandlers(c *gin.Context) {
	specs := s.deps.Pipeline.Registry().Specs()
	out := make([]handlerView, len(specs))
	for i, sp := range specs {
		out[i] = handlerView{Name: sp.Name, Doc: sp.Doc, Batch: sp.NewBatch != nil}
	}
	ok(c, out)
}

func (s *Server) listSchedules(c *gin.Context) {
	if s.deps.Scheduler == nil {
		ok(c, []scheduler.Entry{})
		return
	}
	ok(c, s.deps.Scheduler.Entries())
}
