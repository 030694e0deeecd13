package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/redact-cli/pkg/db"
	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	recordTimeout    = 5 * time.Second
)

const runColumns = `
	id, session_id, file_name, file_fingerprint, file_size, media_type,
	mode, status, failure_code, failure_message,
	risk_score, risk_level, entity_count, category_counts,
	tokens_original, tokens_redacted, processing_seconds, created_at`

// Repository provides database operations for recorded runs.
type Repository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewRepository creates a new run repository.
func NewRepository(pool *pgxpool.Pool, logger logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Repository{
		pool:   pool,
		logger: logger.With(logging.F("component", "history_repository")),
	}
}

// EnsureSchema applies pending migrations for the runs table.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	result, err := db.Migrate(ctx, r.pool)
	if err != nil {
		return err
	}
	if len(result.Applied) > 0 {
		r.logger.Info("Applied history migrations", logging.F("versions", result.Applied))
	}
	return nil
}

// Record inserts a run.
func (r *Repository) Record(ctx context.Context, run *Run) error {
	counts, err := json.Marshal(run.CategoryCounts)
	if err != nil {
		return fmt.Errorf("failed to encode category counts: %w", err)
	}

	query := `
		INSERT INTO redaction_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID, run.SessionID, run.FileName, run.FileFingerprint, run.FileSize, run.MediaType,
		run.Mode, string(run.Status), run.FailureCode, run.FailureMessage,
		run.RiskScore, run.RiskLevel, run.EntityCount, counts,
		run.TokensOriginal, run.TokensRedacted, run.ProcessingSeconds, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Get returns one run by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM redaction_runs WHERE id = $1`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns runs newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*Run, error) {
	query, args := buildListQuery(filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Purge deletes runs created before cutoff and returns how many were removed.
func (r *Repository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM redaction_runs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Observe records terminal session snapshots and ignores the rest. It
// matches orchestrator.Observer; failures are logged, never returned.
func (r *Repository) Observe(s orchestrator.Session) {
	run, ok := RunFromSession(s)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.Record(ctx, run); err != nil {
		r.logger.Warn("Failed to record run",
			logging.Err(err),
			logging.F("session_id", s.ID),
			logging.F("status", string(run.Status)))
	}
}

func buildListQuery(filter Filter) (string, []any) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*filter.Status))
		argIdx++
	}

	if filter.RiskLevel != "" {
		conditions = append(conditions, fmt.Sprintf("risk_level = $%d", argIdx))
		args = append(args, filter.RiskLevel)
		argIdx++
	}

	if filter.NameSearch != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(file_name) LIKE '%%' || LOWER($%d) || '%%'", argIdx))
		args = append(args, filter.NameSearch)
		argIdx++
	}

	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.Since)
		argIdx++
	}

	query := `SELECT ` + runColumns + ` FROM redaction_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := defaultListLimit
	if filter.Limit > 0 && filter.Limit <= maxListLimit {
		limit = filter.Limit
	} else if filter.Limit > maxListLimit {
		limit = maxListLimit
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return query, args
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var status string
	var counts []byte
	err := row.Scan(
		&run.ID, &run.SessionID, &run.FileName, &run.FileFingerprint, &run.FileSize, &run.MediaType,
		&run.Mode, &status, &run.FailureCode, &run.FailureMessage,
		&run.RiskScore, &run.RiskLevel, &run.EntityCount, &counts,
		&run.TokensOriginal, &run.TokensRedacted, &run.ProcessingSeconds, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.CategoryCounts = map[string]int{}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &run.CategoryCounts); err != nil {
			return nil, fmt.Errorf("failed to decode category counts: %w", err)
		}
	}
	return &run, nil
}
