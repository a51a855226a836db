package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/rule"
)

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "authorization engine not available")
		return
	}

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	d := s.deps.Controller.Authorize(r.Context(), &authz.Request{
		Identity: req.Identity(),
		PID:      req.PID,
	})

	writeJSON(w, http.StatusOK, AuthorizeResponse{
		Verdict: d.Verdict.String(),
		Reason:  string(d.Reason),
		Message: d.Message,
		URL:     d.URL,
		Notify:  d.Notify,
		Cached:  d.Cached,
	})
}

func (s *Server) handleProcessExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ProcessExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// No tracker means transitive allow is disabled; the notification is a
	// no-op rather than an error so the shim needs no mode awareness.
	if s.deps.Tracker != nil {
		if err := s.deps.Tracker.OnProcessExit(r.Context(), req.PID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFileCreated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req FileCreatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if s.deps.Tracker != nil {
		s.deps.Tracker.OnFileCreated(req.PID, authz.Artifact{
			VnodeKey:    rule.VnodeKey{Device: req.Device, Inode: req.Inode},
			ContentHash: req.SHA256,
			Path:        req.Path,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	device, err := strconv.ParseUint(r.URL.Query().Get("device"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device parameter")
		return
	}
	inode, err := strconv.ParseUint(r.URL.Query().Get("inode"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid inode parameter")
		return
	}

	d, found := s.deps.Cache.Inspect(rule.VnodeKey{Device: device, Inode: inode})

	resp := CacheCheckResponse{Found: found}
	if found {
		resp.Verdict = d.Verdict.String()
		resp.Reason = string(d.Reason)
		resp.RuleType = string(d.RuleType)
		resp.RuleIdentifier = d.RuleIdentifier
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flushed := s.deps.Cache.FlushAll()
	s.logger.Info("decision cache flushed", "entries", flushed)
	writeJSON(w, http.StatusOK, FlushResponse{Flushed: flushed})
}

func (s *Server) handleAddRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req AddRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cleanup, err := rule.ParseCleanup(req.Cleanup)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules := make([]*rule.Rule, 0, len(req.Rules))
	for i := range req.Rules {
		converted, err := req.Rules[i].ToRule()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rules = append(rules, converted)
	}

	if err := s.deps.Rules.AddRules(r.Context(), rules, cleanup); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AddRulesResponse{
		Applied: len(rules),
		Cleanup: cleanup.String(),
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	matched := s.deps.Rules.LookupRule(req.IdentifierSet())
	if matched == nil {
		writeJSON(w, http.StatusOK, LookupResponse{Found: false})
		return
	}

	fr := rule.FromRule(matched)
	writeJSON(w, http.StatusOK, LookupResponse{Found: true, Rule: &fr})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Rules.Counts())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := rule.WriteFile(w, s.deps.Rules.All()); err != nil {
		// Headers are gone; all we can do is log.
		s.logger.Error("rule export failed", "error", err)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cleanup, err := rule.ParseCleanup(r.URL.Query().Get("cleanup"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules, err := rule.ParseFile(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Rules.AddRules(r.Context(), rules, cleanup); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AddRulesResponse{
		Applied: len(rules),
		Cleanup: cleanup.String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cfg := s.deps.Snapshot()

	eventCount := int64(-1)
	if s.deps.Events != nil {
		if n, err := s.deps.Events.Count(r.Context()); err == nil {
			eventCount = n
		}
	}

	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Mode:          string(cfg.Mode),
		WatchMode:     s.deps.WatchMode,
		RuleCounts:    s.deps.Rules.Counts(),
		CacheSize:     s.deps.Cache.Size(),
		EventCount:    eventCount,
		Version:       s.deps.Version,
		StartedAt:     startedAt,
		UptimeSeconds: time.Since(startedAt).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
