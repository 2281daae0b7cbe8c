// Package migrations applies the embedded feed cache schema.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed *.sql
var embedded embed.FS

const trackingTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT    NOT NULL,
		applied_at INTEGER NOT NULL
	)`

// Migration is one numbered schema step. Down may be empty.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Embedded returns the migrations compiled into the binary.
func Embedded() ([]Migration, error) {
	return Load(embedded)
}

// Load reads NNNN_name.up.sql / NNNN_name.down.sql pairs from the root of fsys,
// sorted by version. Files that do not follow the pattern are skipped.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, file := range names {
		version, name, up, ok := parseName(file)
		if !ok {
			log.Warn().Str("file", file).Msg("Skipping invalid migration file")
			continue
		}
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	set := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		set = append(set, *m)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Version < set[j].Version })

	log.Debug().Int("count", len(set)).Msg("Loaded migrations")
	return set, nil
}

// parseName splits "0001_feed_cache.up.sql" into (1, "feed_cache", true).
func parseName(file string) (version int, name string, up bool, ok bool) {
	var base string
	switch {
	case strings.HasSuffix(file, ".up.sql"):
		base, up = strings.TrimSuffix(file, ".up.sql"), true
	case strings.HasSuffix(file, ".down.sql"):
		base = strings.TrimSuffix(file, ".down.sql")
	default:
		return 0, "", false, false
	}
	prefix, name, found := strings.Cut(base, "_")
	if !found {
		return 0, "", false, false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", false, false
	}
	return version, name, up, true
}

// Up applies every migration in set that has not been recorded yet. Each
// migration and its bookkeeping row commit together.
func Up(ctx context.Context, db *sqlx.DB, set []Migration) error {
	if _, err := db.ExecContext(ctx, trackingTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range set {
		if done[m.Version] {
			continue
		}
		if strings.TrimSpace(m.Up) == "" {
			return fmt.Errorf("migration %d has no up script", m.Version)
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")
		err := inTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UnixNano())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Down reverts the n most recently applied migrations, newest first. Versions
// without a down script stop the rollback.
func Down(ctx context.Context, db *sqlx.DB, set []Migration, n int) error {
	var versions []int
	if err := db.SelectContext(ctx, &versions,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT ?`, n); err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}

	byVersion := make(map[int]Migration, len(set))
	for _, m := range set {
		byVersion[m.Version] = m
	}

	for _, version := range versions {
		m, ok := byVersion[version]
		if !ok || strings.TrimSpace(m.Down) == "" {
			return fmt.Errorf("migration %d cannot be reverted: no down script", version)
		}

		log.Info().Int("version", version).Str("name", m.Name).Msg("Reverting migration")
		err := inTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("revert migration %d (%s): %w", version, m.Name, err)
		}
	}
	return nil
}

func inTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
