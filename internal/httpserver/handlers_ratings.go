package httpserver

import (
	"net/http"

	apierrors "github.com/satring/server/internal/errors"
	"github.com/satring/server/internal/logger"
	"github.com/satring/server/internal/storage"
	"github.com/satring/server/pkg/responders"
)

// listRatings serves GET /api/v1/services/{slug}/ratings.
func (h handlers) listRatings(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.loadService(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	ratings, err := h.store.ListRatings(r.Context(), svc.ID, limit, offset)
	if err != nil {
		h.internalError(w, r, "list ratings", err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"ratings":      ratingViews(ratings),
		"avg_rating":   svc.AvgRating,
		"rating_count": svc.RatingCount,
	})
}

type createRatingRequest struct {
	Score        int    `json:"score"`
	Comment      string `json:"comment"`
	ReviewerName string `json:"reviewer_name"`
}

// createRating serves POST /api/v1/services/{slug}/ratings. Reaching here
// means the L402 guard consumed a payment; a review is never free.
func (h handlers) createRating(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.loadService(w, r)
	if !ok {
		return
	}

	var req createRatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if verr := requireLen("comment", req.Comment, maxCommentLen); verr != nil {
		apierrors.WriteError(w, apierrors.ErrCodeBadInput, verr.Error())
		return
	}
	if verr := requireLen("reviewer_name", req.ReviewerName, maxReviewerNameLen); verr != nil {
		apierrors.WriteError(w, apierrors.ErrCodeBadInput, verr.Error())
		return
	}

	rating := &storage.Rating{
		ServiceID:    svc.ID,
		Score:        clampScore(req.Score),
		Comment:      req.Comment,
		ReviewerName: req.ReviewerName,
	}
	if err := h.store.CreateRating(r.Context(), rating); err != nil {
		h.internalError(w, r, "create rating", err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("slug", svc.Slug).
		Int("score", rating.Score).
		Msg("rating recorded")

	responders.JSON(w, http.StatusCreated, ratingPayload{
		Score:        rating.Score,
		Comment:      rating.Comment,
		ReviewerName: rating.ReviewerName,
		CreatedAt:    rating.CreatedAt,
	})
}

// reputation serves GET /api/v1/services/{slug}/reputation: the paid detail
// view with the score distribution and recent reviews.
func (h handlers) reputation(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.loadService(w, r)
	if !ok {
		return
	}

	dist, err := h.store.RatingDistribution(r.Context(), svc.ID)
	if err != nil {
		h.internalError(w, r, "rating distribution", err)
		return
	}
	recent, err := h.store.ListRatings(r.Context(), svc.ID, 10, 0)
	if err != nil {
		h.internalError(w, r, "recent ratings", err)
		return
	}

	distribution := make(map[string]int64, 5)
	for score := 1; score <= 5; score++ {
		distribution[scoreKey(score)] = dist[score]
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"slug":           svc.Slug,
		"avg_rating":     svc.AvgRating,
		"rating_count":   svc.RatingCount,
		"distribution":   distribution,
		"recent_reviews": ratingViews(recent),
	})
}

func scoreKey(score int) string {
	return string(rune('0' + score))
}
