// Package manifest records which model produced each embedding space, so an
// existing space id cannot silently switch to incompatible vectors.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/embederr"
)

// Entry is one row of the manifest.
type Entry struct {
	SpaceID     string
	Fingerprint string
	Dims        int
	Modalities  []string
	Generation  uuid.UUID
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("manifest: connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("manifest: ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate executes the .up.sql files of migrationsDir in name order.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("manifest: read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("manifest: read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("manifest: exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Reconcile compares the configured spaces with the recorded ones. Unknown
// spaces are recorded. A known space whose fingerprint or dims changed is a
// configuration error unless allowMigration is set, in which case the row is
// replaced under a new generation.
func (s *Store) Reconcile(ctx context.Context, spaces []Entry, allowMigration bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("manifest: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var conflicts []string
	for _, sp := range spaces {
		var (
			fingerprint string
			dims        int
		)
		err := tx.QueryRow(ctx,
			`SELECT fingerprint, dims FROM space_manifest WHERE space_id = $1 FOR UPDATE`,
			sp.SpaceID,
		).Scan(&fingerprint, &dims)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx,
				`INSERT INTO space_manifest (space_id, fingerprint, dims, modalities, generation)
				 VALUES ($1, $2, $3, $4, $5)`,
				sp.SpaceID, sp.Fingerprint, sp.Dims, sp.Modalities, uuid.New(),
			)
			if err != nil {
				return fmt.Errorf("manifest: insert %s: %w", sp.SpaceID, err)
			}
			s.logger.Info("space recorded", zap.String("space", sp.SpaceID), zap.String("fingerprint", sp.Fingerprint))

		case err != nil:
			return fmt.Errorf("manifest: query %s: %w", sp.SpaceID, err)

		case fingerprint == sp.Fingerprint && dims == sp.Dims:
			_, err = tx.Exec(ctx,
				`UPDATE space_manifest SET modalities = $2, last_seen = now() WHERE space_id = $1`,
				sp.SpaceID, sp.Modalities,
			)
			if err != nil {
				return fmt.Errorf("manifest: touch %s: %w", sp.SpaceID, err)
			}

		case allowMigration:
			_, err = tx.Exec(ctx,
				`UPDATE space_manifest
				 SET fingerprint = $2, dims = $3, modalities = $4, generation = $5, first_seen = now(), last_seen = now()
				 WHERE space_id = $1`,
				sp.SpaceID, sp.Fingerprint, sp.Dims, sp.Modalities, uuid.New(),
			)
			if err != nil {
				return fmt.Errorf("manifest: migrate %s: %w", sp.SpaceID, err)
			}
			s.logger.Warn("space migrated to a new model; previously stored vectors are not comparable",
				zap.String("space", sp.SpaceID),
				zap.String("old_fingerprint", fingerprint),
				zap.String("new_fingerprint", sp.Fingerprint),
				zap.Int("old_dims", dims),
				zap.Int("new_dims", sp.Dims),
			)

		default:
			conflicts = append(conflicts, fmt.Sprintf("%s (%s/%d -> %s/%d)", sp.SpaceID, fingerprint, dims, sp.Fingerprint, sp.Dims))
		}
	}

	if len(conflicts) > 0 {
		return embederr.Configuration("spaces changed model without allow_migration: %s", strings.Join(conflicts, ", "))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("manifest: commit: %w", err)
	}
	return nil
}

// List returns every recorded space ordered by id.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT space_id, fingerprint, dims, modalities, generation, first_seen, last_seen
		 FROM space_manifest ORDER BY space_id`)
	if err != nil {
		return nil, fmt.Errorf("manifest: list: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SpaceID, &e.Fingerprint, &e.Dims, &e.Modalities, &e.Generation, &e.FirstSeen, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("manifest: scan: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
