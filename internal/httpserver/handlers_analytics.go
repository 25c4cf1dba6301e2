package httpserver

import (
	"net/http"
	"time"

	"github.com/satring/server/pkg/responders"
)

var serverStartTime = time.Now()

// health serves GET /healthz.
func (h handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(serverStartTime).Seconds()),
		"test_mode":      h.cfg.Auth.TestMode(),
	})
}

// analytics serves GET /api/v1/analytics, the paid aggregate view.
func (h handlers) analytics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.AnalyticsSummary(r.Context())
	if err != nil {
		h.internalError(w, r, "analytics summary", err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"total_services": summary.TotalServices,
		"total_ratings":  summary.TotalRatings,
		"avg_price_sats": summary.AvgPriceSats,
		"top_rated":      serviceViews(summary.TopRated),
	})
}
