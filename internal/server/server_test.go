package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"reddot-watch/feedcache/internal/admin"
	"reddot-watch/feedcache/internal/database"
	"reddot-watch/feedcache/internal/feed"
	"reddot-watch/feedcache/internal/models"
	"reddot-watch/feedcache/internal/pagination"
	"reddot-watch/feedcache/internal/regen"
	"reddot-watch/feedcache/internal/scorer"
	"reddot-watch/feedcache/internal/server/api"
	"reddot-watch/feedcache/internal/storage"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db      *database.DB
	repo    *storage.Repository
	items   []models.FeedItem
	handler http.Handler
	scored  []scorer.Request
}

func newTestEnv(t *testing.T, apiKey string, rateLimit int) *testEnv {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "feedcache.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{db: db, repo: storage.NewRepository(db)}
	ctx := context.Background()
	for i, score := range []float64{9, 8, 7, 6, 5} {
		item := models.FeedItem{
			Title:       "item",
			URL:         "https://example.com/" + string(rune('a'+i)),
			Language:    "en",
			PublishedAt: now.Add(-time.Duration(i) * time.Hour),
		}
		require.NoError(t, db.InsertFeedItem(ctx, &item))
		env.items = append(env.items, item)
		require.NoError(t, env.repo.UpsertRows(ctx, []models.CacheRow{
			{UserID: "42", ItemID: item.ID, Score: score, ExpiresAt: now.Add(time.Hour)},
		}))
	}
	require.NoError(t, db.InsertUser(ctx, models.User{ID: "42", OnboardingCompleted: true}, 1, 1))
	require.NoError(t, db.InsertUser(ctx, models.User{ID: "7", OnboardingCompleted: true}, 1, 1))

	clock := func() time.Time { return now }
	sc := scorer.Func(func(ctx context.Context, req scorer.Request) (*scorer.Response, error) {
		env.scored = append(env.scored, req)
		if req.UserID == "7" {
			return nil, errors.New("connection refused")
		}
		return &scorer.Response{Success: true, Items: []scorer.ScoredItem{{ItemID: env.items[0].ID, Score: 1}}}, nil
	})
	orch := regen.NewOrchestrator(env.repo, env.repo, sc, regen.Options{
		GroupSize: 1,
		Now:       clock,
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})

	env.handler = NewHandler(Deps{
		DB:             db,
		Pager:          feed.NewReader(env.repo, clock),
		Commands:       admin.NewCommands(orch),
		Stale:          orch.Detector(),
		APIKey:         apiKey,
		AdminRateLimit: rateLimit,
	}, zerolog.Nop())
	return env
}

func (e *testEnv) do(method, target, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestFeedRoute(t *testing.T) {
	env := newTestEnv(t, "", 0)

	rec := env.do(http.MethodGet, "/v1/users/42/feed?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, 9.0, resp.Items[0].Score)
	require.Equal(t, 8.0, resp.Items[1].Score)
	require.NotNil(t, resp.NextCursor)

	cursor, err := pagination.DecodeCursor(*resp.NextCursor)
	require.NoError(t, err)
	require.Equal(t, 8.0, cursor.Score)

	rec = env.do(http.MethodGet, "/v1/users/42/feed?limit=2&cursor="+*resp.NextCursor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = api.Response{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 7.0, resp.Items[0].Score)
	require.Equal(t, 6.0, resp.Items[1].Score)
}

func TestFeedRouteEmptyAndInvalid(t *testing.T) {
	env := newTestEnv(t, "", 0)

	rec := env.do(http.MethodGet, "/v1/users/nobody/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())

	for _, limit := range []string{"0", "101", "abc"} {
		rec = env.do(http.MethodGet, "/v1/users/42/feed?limit="+limit, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}

	rec = env.do(http.MethodPost, "/v1/users/42/feed", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, "secret", 0)

	rec := env.do(http.MethodPost, "/v1/admin/refresh/users/42", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	for _, key := range []string{"wrong", "secre", "secret ", "SECRET"} {
		rec = env.do(http.MethodPost, "/v1/admin/refresh/users/42", key)
		require.Equal(t, http.StatusUnauthorized, rec.Code, key)
		require.Equal(t, "Invalid API key\n", rec.Body.String(), key)
	}
	require.Empty(t, env.scored)

	rec = env.do(http.MethodPost, "/v1/admin/refresh/users/42", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var report admin.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, admin.Report{Trigger: "manual", TotalUsers: 1, Processed: 1, Succeeded: 1, Errors: []string{}}, report)

	rows, err := env.repo.ListRows(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Feed reads stay open.
	rec = env.do(http.MethodGet, "/v1/users/42/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminSweeps(t *testing.T) {
	env := newTestEnv(t, "", 0)

	rec := env.do(http.MethodPost, "/v1/admin/refresh/all?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report admin.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "forced", report.Trigger)
	require.Equal(t, 2, report.TotalUsers)
	require.Equal(t, 1, report.ErrorCount)
	require.Equal(t, []string{"7: transport: connection refused"}, report.Errors)

	// Forced runs upsert, so user 42 keeps its five rows; user 7 has none.
	rec = env.do(http.MethodGet, "/v1/admin/stale-users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Equal(t, "user_id\n7\n", rec.Body.String())

	rec = env.do(http.MethodPost, "/v1/admin/refresh/stale?batch_limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report = admin.Report{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "smart-targeted", report.Trigger)
	require.Equal(t, 1, report.TotalUsers)

	rec = env.do(http.MethodPost, "/v1/admin/refresh/stale?batch_limit=-3", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodPost, "/v1/admin/refresh/all?force=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRateLimit(t *testing.T) {
	env := newTestEnv(t, "", 2)

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/v1/admin/stale-users", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(http.MethodGet, "/v1/admin/stale-users", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, "", 0)

	rec := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())

	env.do(http.MethodGet, "/v1/users/42/feed", "")
	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "feedcache_feed_page_requests_total"))
}

type downDB struct{}

func (downDB) PingContext(context.Context) error { return errors.New("database is closed") }

func TestHealthReportsDatabaseDown(t *testing.T) {
	handler := NewHandler(Deps{DB: downDB{}}, zerolog.Nop())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPServerLeavesSweepsWithoutWriteDeadline(t *testing.T) {
	env := newTestEnv(t, "", 0)
	srv := newHTTPServer(Deps{DB: env.db, Pager: feed.NewReader(env.repo, nil)}, ":0", zerolog.Nop())
	require.Equal(t, ":0", srv.Addr)
	require.Zero(t, srv.WriteTimeout)
	require.NotZero(t, srv.ReadHeaderTimeout)
}
