package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/feedcache/internal/feed"
	"reddot-watch/feedcache/internal/models"
)

// Response structure for the feed endpoint
type Response struct {
	Items      []models.RankedItem `json:"items"`
	NextCursor *string             `json:"next_cursor,omitempty"`
}

// FeedHandler serves pages of a user's ranked feed.
type FeedHandler struct {
	pager feed.Pager
}

// NewFeedHandler creates a new handler instance.
func NewFeedHandler(pager feed.Pager) *FeedHandler {
	return &FeedHandler{pager: pager}
}

// GetFeed handles GET /v1/users/{userID}/feed.
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing feed page request")

	query := r.URL.Query()
	req := feed.Request{
		UserID: chi.URLParam(r, "userID"),
		Cursor: query.Get("cursor"),
		Filters: feed.Filters{
			Language: query.Get("language"),
			TopicL1:  query.Get("topic_l1"),
			TopicL2:  query.Get("topic_l2"),
		},
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > feed.MaxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", feed.MaxLimit), http.StatusBadRequest)
			return
		}
		req.Limit = limit
	}

	page, err := h.pager.FetchPage(r.Context(), req)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidLimit) || errors.Is(err, feed.ErrMissingUser) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("user_id", req.UserID).Str("cursor", req.Cursor).Msg("Error fetching feed page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	items := page.Items
	if items == nil {
		items = []models.RankedItem{}
	}
	writeJSON(w, r, Response{Items: items, NextCursor: page.NextCursor})
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
		return
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
