package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch"
	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/diag"
	"github.com/sambeau/stitch/pkg/stitch/value"
	"github.com/sambeau/stitch/store/cache"
)

// proofRequest is a render request plus delivery details.
type proofRequest struct {
	stitch.Request
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
}

type proofResponse struct {
	MessageID  string        `json:"messageId"`
	Provider   string        `json:"provider"`
	References []string      `json:"references,omitempty"`
	Warnings   diag.Warnings `json:"warnings"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statsResponse struct {
	Renders   int64        `json:"renders"`
	Failures  int64        `json:"failures"`
	Proofs    int64        `json:"proofs"`
	Fragments *cache.Stats `json:"fragmentCache,omitempty"`
	Entities  *cache.Stats `json:"entityCache,omitempty"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req stitch.Request
	if !s.decode(w, r, &req) {
		return
	}
	res, ok := s.render(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req stitch.Request
	if !s.decode(w, r, &req) {
		return
	}
	req.Cache = s.callerCache(req.Cache)
	res, err := s.backend.Engine.Scan(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	if s.proofer == nil {
		writeError(w, http.StatusServiceUnavailable, "proof delivery is not configured")
		return
	}
	if !s.limiter.Allow(clientKey(r)) {
		w.Header().Set("Retry-After", fmt.Sprint(int(s.limiter.window.Seconds())))
		writeError(w, http.StatusTooManyRequests, "proof rate limit exceeded")
		return
	}
	var req proofRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.To) == 0 {
		writeError(w, http.StatusBadRequest, "at least one recipient is required")
		return
	}
	res, ok := s.render(w, r, req.Request)
	if !ok {
		return
	}

	id, err := s.proofer.Send(r.Context(), req.To, req.Subject, res.RenderedDocument)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.proofs.Add(1)
	writeJSON(w, http.StatusOK, proofResponse{
		MessageID:  id,
		Provider:   s.proofer.Provider(),
		References: res.References,
		Warnings:   res.Warnings,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Renders:  s.renders.Load(),
		Failures: s.failures.Load(),
		Proofs:   s.proofs.Load(),
	}
	if st, ok := s.backend.FragmentStats(); ok {
		resp.Fragments = &st
	}
	if s.entities != nil {
		st := s.entities.Stats()
		resp.Entities = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// render runs one request against the engine, feeding it the server's
// entity cache and refreshing the cache from what was hydrated.
func (s *Server) render(w http.ResponseWriter, r *http.Request, req stitch.Request) (*stitch.Result, bool) {
	if req.AllowHydration == nil && !s.config.Entities.AllowHydration {
		no := false
		req.AllowHydration = &no
	}
	req.Cache = s.callerCache(req.Cache)

	res, err := s.backend.Engine.Render(r.Context(), req)
	if err != nil {
		s.failures.Add(1)
		s.log.Warn("render failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return nil, false
	}
	s.renders.Add(1)
	s.remember(res.Bindings)
	return res, true
}

// callerCache layers the request's own cache over the server cache.
func (s *Server) callerCache(own map[string]value.Record) map[string]value.Record {
	if s.entities == nil {
		return own
	}
	merged := s.entities.Snapshot()
	if len(merged) == 0 {
		return own
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged
}

func (s *Server) remember(occs []binding.Occurrence) {
	if s.entities == nil {
		return
	}
	for _, o := range occs {
		if o.Source == binding.SourceHydrate && o.Status == binding.StatusResolved && o.Value != nil {
			s.entities.Set(o.CacheKey, o.Value, s.config.Cache.EntityTTL)
		}
	}
}

// decode reads a JSON body into v, answering 400 or 413 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return false
	}
	body := r.Body
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
