// Package content stores the items autonomous tasks read and produce.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/dixie/pkg/models"
)

// ErrNotFound is returned when a suggestion does not exist.
var ErrNotFound = errors.New("not found")

// Store is the content collaborator used by built-in tasks (through the
// narrower builtin.Store) and by human review commands.
type Store interface {
	AddReference(ctx context.Context, ref models.Reference) error
	AddPaper(ctx context.Context, p models.Paper) error
	// CountUnlinkedReferences counts references with no holding and no suggestion yet.
	CountUnlinkedReferences(ctx context.Context) (int, error)
	UnlinkedReferences(ctx context.Context, limit int) ([]models.Reference, error)
	UnanalyzedPapers(ctx context.Context, limit int) ([]models.Paper, error)
	// AddSuggestion stores s as pending regardless of s.Status.
	AddSuggestion(ctx context.Context, s models.AcquisitionSuggestion) (models.AcquisitionSuggestion, error)
	// AddArtifact stores a as pending regardless of a.Status.
	AddArtifact(ctx context.Context, a models.AnalysisArtifact) (models.AnalysisArtifact, error)
	Suggestions(ctx context.Context, status models.ReviewStatus) ([]models.AcquisitionSuggestion, error)
	Artifacts(ctx context.Context, status models.ReviewStatus) ([]models.AnalysisArtifact, error)
	// DecideSuggestion records a human decision on a pending suggestion.
	DecideSuggestion(ctx context.Context, id string, status models.ReviewStatus, decidedBy string) error
	// PurgeDeclined deletes declined suggestions decided before cutoff.
	PurgeDeclined(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// SQLiteStore implements Store with a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const createTables = `
CREATE TABLE IF NOT EXISTS references_index (
	id TEXT PRIMARY KEY,
	item_type TEXT NOT NULL,
	identifier TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	linked INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS papers (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	abstract TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS acquisition_suggestions (
	id TEXT PRIMARY KEY,
	item_type TEXT NOT NULL,
	identifier TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	importance INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	decided_at DATETIME,
	decided_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON acquisition_suggestions(status);
CREATE TABLE IF NOT EXISTS analysis_artifacts (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	kind TEXT NOT NULL,
	body TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

// New opens a SQLiteStore and runs auto-migration.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open content db: %w", err)
	}
	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate content db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// AddReference stores an unlinked reference.
func (s *SQLiteStore) AddReference(ctx context.Context, ref models.Reference) error {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO references_index (id, item_type, identifier, context) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		ref.ID, ref.ItemType, ref.Identifier, ref.Context,
	)
	if err != nil {
		return fmt.Errorf("add reference: %w", err)
	}
	return nil
}

// AddPaper stores a paper awaiting analysis.
func (s *SQLiteStore) AddPaper(ctx context.Context, p models.Paper) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO papers (id, title, abstract) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Title, p.Abstract,
	)
	if err != nil {
		return fmt.Errorf("add paper: %w", err)
	}
	return nil
}

const unlinkedWhere = `WHERE r.linked = 0 AND NOT EXISTS (
	SELECT 1 FROM acquisition_suggestions s WHERE s.identifier = r.identifier AND s.item_type = r.item_type)`

// CountUnlinkedReferences counts references awaiting a suggestion.
func (s *SQLiteStore) CountUnlinkedReferences(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM references_index r `+unlinkedWhere).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return n, nil
}

// UnlinkedReferences returns up to limit references awaiting a suggestion.
func (s *SQLiteStore) UnlinkedReferences(ctx context.Context, limit int) ([]models.Reference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.item_type, r.identifier, r.context FROM references_index r `+unlinkedWhere+` ORDER BY r.id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	var refs []models.Reference
	for rows.Next() {
		var r models.Reference
		if err := rows.Scan(&r.ID, &r.ItemType, &r.Identifier, &r.Context); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// UnanalyzedPapers returns up to limit papers with no artifact yet.
func (s *SQLiteStore) UnanalyzedPapers(ctx context.Context, limit int) ([]models.Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.title, p.abstract FROM papers p
		 WHERE NOT EXISTS (SELECT 1 FROM analysis_artifacts a WHERE a.subject = p.id)
		 ORDER BY p.id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	var papers []models.Paper
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.ID, &p.Title, &p.Abstract); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// AddSuggestion stores a new pending suggestion.
func (s *SQLiteStore) AddSuggestion(ctx context.Context, sg models.AcquisitionSuggestion) (models.AcquisitionSuggestion, error) {
	sg.ID = uuid.NewString()
	sg.Status = models.StatusPending
	sg.CreatedAt = s.now().UTC()
	sg.DecidedAt = nil
	sg.DecidedBy = ""
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO acquisition_suggestions (id, item_type, identifier, reason, importance, source, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.ItemType, sg.Identifier, sg.Reason, sg.Importance, sg.Source, string(sg.Status), sg.CreatedAt,
	)
	if err != nil {
		return sg, fmt.Errorf("add suggestion: %w", err)
	}
	return sg, nil
}

// AddArtifact stores a new pending analysis artifact.
func (s *SQLiteStore) AddArtifact(ctx context.Context, a models.AnalysisArtifact) (models.AnalysisArtifact, error) {
	a.ID = uuid.NewString()
	a.Status = models.StatusPending
	a.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_artifacts (id, subject, kind, body, source, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Subject, a.Kind, a.Body, a.Source, string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("add artifact: %w", err)
	}
	return a, nil
}

// Suggestions lists suggestions, optionally filtered by status, newest first.
func (s *SQLiteStore) Suggestions(ctx context.Context, status models.ReviewStatus) ([]models.AcquisitionSuggestion, error) {
	query := `SELECT id, item_type, identifier, reason, importance, source, status, created_at, decided_at, decided_by
		 FROM acquisition_suggestions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY importance DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []models.AcquisitionSuggestion
	for rows.Next() {
		var sg models.AcquisitionSuggestion
		var st string
		var decided sql.NullTime
		if err := rows.Scan(&sg.ID, &sg.ItemType, &sg.Identifier, &sg.Reason, &sg.Importance, &sg.Source, &st, &sg.CreatedAt, &decided, &sg.DecidedBy); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		sg.Status = models.ReviewStatus(st)
		if decided.Valid {
			t := decided.Time
			sg.DecidedAt = &t
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// Artifacts lists analysis artifacts, optionally filtered by status.
func (s *SQLiteStore) Artifacts(ctx context.Context, status models.ReviewStatus) ([]models.AnalysisArtifact, error) {
	query := `SELECT id, subject, kind, body, source, status, created_at FROM analysis_artifacts`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.AnalysisArtifact
	for rows.Next() {
		var a models.AnalysisArtifact
		var st string
		if err := rows.Scan(&a.ID, &a.Subject, &a.Kind, &a.Body, &a.Source, &st, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Status = models.ReviewStatus(st)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DecideSuggestion moves a pending suggestion to approved or declined.
func (s *SQLiteStore) DecideSuggestion(ctx context.Context, id string, status models.ReviewStatus, decidedBy string) error {
	if status != models.StatusApproved && status != models.StatusDeclined {
		return fmt.Errorf("decide suggestion: invalid status %q", status)
	}
	if decidedBy == "" {
		return errors.New("decide suggestion: decided_by is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE acquisition_suggestions SET status = ?, decided_at = ?, decided_by = ?
		 WHERE id = ? AND status = ?`,
		string(status), s.now().UTC(), decidedBy, id, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("decide suggestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide suggestion: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("decide suggestion %s: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeDeclined deletes declined suggestions decided before cutoff.
func (s *SQLiteStore) PurgeDeclined(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM acquisition_suggestions WHERE status = ? AND decided_at < ?`,
		string(models.StatusDeclined), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge suggestions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge suggestions: %w", err)
	}
	return int(n), nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
