package engine

import (
	"net/http"
	"sort"
	"strings"

	"github.com/drblury/stageflow/internal/engine/jsoncodec"
)

// flowDescriptor is the inspector's JSON view of one registered flow.
type flowDescriptor struct {
	Name              string   `json:"name"`
	Stages            []string `json:"stages"`
	Strategies        []string `json:"strategies"`
	StatisticsEnabled bool     `json:"statistics_enabled"`
}

func (e *Engine) mountInspector() {
	if !e.Conf.InspectorEnabled {
		return
	}

	port := e.Conf.InspectorPort

	e.RegisterHTTPHandler(port, "/api/flows", http.HandlerFunc(e.handleGetFlows))
	e.RegisterHTTPHandler(port, "/api/stats", http.HandlerFunc(e.handleGetStats))
	e.RegisterHTTPHandler(port, "/api/health", http.HandlerFunc(e.handleGetHealth))
}

func (e *Engine) handleGetFlows(w http.ResponseWriter, r *http.Request) {
	if e.answerCORS(w, r) {
		return
	}

	e.flowsMu.RLock()
	descriptors := make([]flowDescriptor, 0, len(e.flows))
	for _, flow := range e.flows {
		descriptors = append(descriptors, flowDescriptor{
			Name:              flow.Name(),
			Stages:            flow.StageNames(),
			Strategies:        flow.StrategyNames(),
			StatisticsEnabled: flow.Statistics().Enabled(),
		})
	}
	e.flowsMu.RUnlock()

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	e.writeJSON(w, descriptors)
}

func (e *Engine) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if e.answerCORS(w, r) {
		return
	}

	e.writeJSON(w, e.stats.Snapshot())
}

func (e *Engine) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	if e.answerCORS(w, r) {
		return
	}

	e.writeJSON(w, map[string]any{
		"status":                "ok",
		"flows":                 len(e.FlowNames()),
		"notifications_dropped": e.dispatcher.Dropped(),
	})
}

// answerCORS applies the configured CORS policy and answers preflight
// requests. It reports whether the request was already fully handled.
func (e *Engine) answerCORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if len(e.Conf.InspectorCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if allowed := e.allowedCORSOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}

	return false
}

// allowedCORSOrigin checks if the request origin is allowed and returns the
// appropriate Access-Control-Allow-Origin value.
func (e *Engine) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range e.Conf.InspectorCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

func (e *Engine) writeJSON(w http.ResponseWriter, v any) {
	if err := jsoncodec.Encode(w, v); err != nil {
		e.Logger.Error("Failed to encode inspector response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
