package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// HealthCheck reports each dependency. Any failing dependency answers 503.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.health))
	for name := range h.health {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.health[name](ctx); err != nil {
			healthy = false
			components[name] = "unhealthy: " + err.Error()
			continue
		}
		components[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	h.sendJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  h.now().UTC(),
		"components": components,
	})
}
