package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/user/llmeter/internal/provider"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// usageHandler serves the enabled providers' results. ?provider=a,b narrows
// the response without bypassing the cache.
func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	filter := splitIDs(r.URL.Query().Get("provider"))
	for _, id := range filter {
		if _, ok := s.registry.Get(id); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider: " + id})
			return
		}
	}

	ids := s.config.EnabledIDs()
	cache := "HIT"
	results, age, ok := s.cache.Get(ids)
	if !ok {
		cache = "MISS"
		results = s.fetch(r.Context(), ids)
	}

	if len(filter) > 0 {
		results = lo.Filter(results, func(res provider.Result, _ int) bool {
			return lo.Contains(filter, res.ProviderID)
		})
	}

	w.Header().Set("X-Cache", cache)
	w.Header().Set("Age", strconv.Itoa(int(age/time.Second)))
	writeJSON(w, http.StatusOK, results)
}

// fetch collapses concurrent cache misses into one FetchAll.
func (s *Server) fetch(ctx context.Context, ids []string) []provider.Result {
	v, _, _ := s.fetches.Do(cacheKey(ids), func() (any, error) {
		// The shared fetch outlives any single request.
		ctx := context.WithoutCancel(ctx)
		results := s.registry.FetchAll(ctx, ids, s.config.SettingsMap(), s.config.Timeout)
		s.cache.Set(ids, results)
		return results, nil
	})
	return v.([]provider.Result)
}

type providerInfo struct {
	provider.Meta
	Enabled bool `json:"enabled"`
}

func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	enabled := s.config.EnabledIDs()
	infos := lo.Map(s.registry.Metas(), func(m provider.Meta, _ int) providerInfo {
		return providerInfo{Meta: m, Enabled: lo.Contains(enabled, m.ID)}
	})
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", s.healthHandler)
	mux.HandleFunc("GET /api/v1/usage", s.usageHandler)
	mux.HandleFunc("GET /api/v1/providers", s.providersHandler)
}

func splitIDs(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
}
