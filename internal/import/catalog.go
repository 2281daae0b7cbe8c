// Package importfeeds loads catalog items and users from CSV exports so a local
// database can be populated without the ingestion pipeline.
package importfeeds

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/feedcache/internal/database"
	"reddot-watch/feedcache/internal/models"
)

// Summary counts what an import did. Row-level problems are collected, not fatal.
type Summary struct {
	Total    int
	Imported int
	Errors   []string
}

// Importer handles the CSV import process
type Importer struct {
	db *database.DB
}

// NewImporter creates a new importer
func NewImporter(db *database.DB) *Importer {
	return &Importer{db: db}
}

// ImportItemsFile imports catalog items from the CSV file at path.
func (i *Importer) ImportItemsFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()
	return i.ImportItems(ctx, f)
}

// ImportUsersFile imports users from the CSV file at path.
func (i *Importer) ImportUsersFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()
	return i.ImportUsers(ctx, f)
}

// ImportItems reads rows with columns title, url, published_at and optionally source,
// language, topic_l1, topic_l2, topic_l3, media_kind, video_duration_seconds and
// video_thumbnail_url. published_at is RFC3339.
func (i *Importer) ImportItems(ctx context.Context, r io.Reader) (Summary, error) {
	return i.importRows(ctx, r, []string{"title", "url", "published_at"}, func(row csvRow) (string, error) {
		published, err := time.Parse(time.RFC3339, row.get("published_at"))
		if err != nil {
			return "", fmt.Errorf("invalid published_at: %w", err)
		}
		item := models.FeedItem{
			Title:       row.get("title"),
			URL:         row.get("url"),
			Source:      row.get("source"),
			Language:    row.get("language"),
			TopicL1:     row.get("topic_l1"),
			TopicL2:     row.get("topic_l2"),
			TopicL3:     row.get("topic_l3"),
			MediaKind:   row.get("media_kind"),
			PublishedAt: published,
		}
		if item.URL == "" {
			return "", fmt.Errorf("empty URL")
		}
		if d := row.get("video_duration_seconds"); d != "" || row.get("video_thumbnail_url") != "" {
			video := &models.Video{ThumbnailURL: row.get("video_thumbnail_url")}
			if d != "" {
				if video.DurationSeconds, err = strconv.ParseInt(d, 10, 64); err != nil {
					return "", fmt.Errorf("invalid video_duration_seconds: %w", err)
				}
			}
			item.Video = video
			if item.MediaKind == "" {
				item.MediaKind = models.MediaKindVideo
			}
		}

		if err := i.db.InsertFeedItem(ctx, &item); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return "", fmt.Errorf("duplicate URL: %s", item.URL)
			}
			return "", err
		}
		return item.URL, nil
	})
}

// ImportUsers reads rows with column user_id and optionally status,
// onboarding_completed (bool, default true) and active_preferences (int, default 1).
func (i *Importer) ImportUsers(ctx context.Context, r io.Reader) (Summary, error) {
	return i.importRows(ctx, r, []string{"user_id"}, func(row csvRow) (string, error) {
		user := models.User{
			ID:                  row.get("user_id"),
			Status:              row.get("status"),
			OnboardingCompleted: true,
		}
		if user.ID == "" {
			return "", fmt.Errorf("empty user_id")
		}
		if v := row.get("onboarding_completed"); v != "" {
			done, err := strconv.ParseBool(v)
			if err != nil {
				return "", fmt.Errorf("invalid onboarding_completed: %w", err)
			}
			user.OnboardingCompleted = done
		}
		active := 1
		if v := row.get("active_preferences"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return "", fmt.Errorf("invalid active_preferences %q", v)
			}
			active = n
		}

		if err := i.db.InsertUser(ctx, user, active, active); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return "", fmt.Errorf("duplicate user: %s", user.ID)
			}
			return "", err
		}
		return user.ID, nil
	})
}

type csvRow struct {
	record  []string
	columns map[string]int
}

// get returns the trimmed value of column, or "" when absent.
func (r csvRow) get(column string) string {
	idx, ok := r.columns[column]
	if !ok || idx >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[idx])
}

func (i *Importer) importRows(ctx context.Context, data io.Reader, required []string, insert func(csvRow) (string, error)) (Summary, error) {
	reader := csv.NewReader(data)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read CSV header: %w", err)
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	columns := make(map[string]int, len(header))
	for idx, column := range header {
		columns[strings.ToLower(strings.TrimSpace(column))] = idx
	}
	for _, column := range required {
		if _, ok := columns[column]; !ok {
			return Summary{}, fmt.Errorf("required column '%s' not found in CSV header", column)
		}
	}

	var summary Summary
	lineCount := 1 // Header was already read
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}

		summary.Total++
		key, err := insert(csvRow{record: record, columns: columns})
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Skipping row")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}
		summary.Imported++
		log.Debug().Int("line", lineCount).Str("key", key).Msg("Row imported")
	}

	log.Info().
		Int("total", summary.Total).
		Int("success", summary.Imported).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")
	return summary, nil
}
