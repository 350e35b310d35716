package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the interaction corpus and the
// background job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "nlsh.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet. New optional columns arrive as new numbered files, so old
// readers keep working against a newer corpus.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Interactions ---

const interactionColumns = `id, created_at, prompt_text, intent, intent_confidence, candidates,
	selected_command, executed_command, exit_code, feedback, cwd, session_id,
	embedding IS NOT NULL`

// Insert persists a new interaction. A failure here is an infrastructure
// error and must reach the caller: silently dropping a record would break
// the training-data guarantee.
func (s *Store) Insert(i Interaction) error {
	if i.Feedback == "" {
		i.Feedback = FeedbackPending
	}
	if !i.Feedback.Valid() {
		return fmt.Errorf("invalid feedback value %q", i.Feedback)
	}

	candidates := i.Candidates
	if candidates == nil {
		candidates = []Candidate{}
	}
	candJSON, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshalling candidates: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO interactions (id, created_at, prompt_text, intent, intent_confidence,
			candidates, selected_command, executed_command, exit_code, feedback, cwd, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CreatedAt, i.Prompt, nullStr(i.Intent), i.IntentConfidence,
		string(candJSON), nullStr(i.SelectedCommand), nullStr(i.ExecutedCommand),
		i.ExitCode, string(i.Feedback), i.Cwd, i.SessionID,
	)
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

// Get returns a single interaction by id.
func (s *Store) Get(id string) (Interaction, error) {
	row := s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// Query returns interactions matching the filter in submission order
// (created_at ascending, insertion order as tiebreak). A single client's
// sequential requests are therefore observed in the order it sent them.
func (s *Store) Query(f Filter, limit, offset int) ([]Interaction, error) {
	where, args := filterClause(f)
	q := `SELECT ` + interactionColumns + ` FROM interactions` + where +
		` ORDER BY created_at ASC, rowid ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// Count returns the number of interactions matching the filter.
func (s *Store) Count(f Filter) (int64, error) {
	where, args := filterClause(f)
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions`+where, args...).Scan(&n)
	return n, err
}

// UpdateFeedback applies a one-way feedback transition. The UPDATE is
// guarded by feedback = 'pending', so concurrent reporters race on a single
// atomic row update and exactly one wins; the loser gets
// ErrInvalidTransition.
func (s *Store) UpdateFeedback(id string, u FeedbackUpdate) error {
	if !u.Feedback.Terminal() {
		return fmt.Errorf("%w: target feedback must be terminal, got %q", ErrInvalidTransition, u.Feedback)
	}
	if u.ExitCode != nil && u.Feedback == FeedbackRejected {
		return fmt.Errorf("%w: exit_code requires accepted or modified feedback", ErrInvalidTransition)
	}

	res, err := s.db.Exec(`
		UPDATE interactions
		SET feedback = ?, selected_command = ?, executed_command = ?, exit_code = ?
		WHERE id = ? AND feedback = 'pending'`,
		string(u.Feedback), nullStr(u.SelectedCommand), nullStr(u.ExecutedCommand), u.ExitCode, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish "missing" from "already terminal".
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// SetEmbedding stores the prompt embedding for a record. Write-once: a
// record that already has an embedding is left untouched.
func (s *Store) SetEmbedding(id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding vector")
	}
	res, err := s.db.Exec(`UPDATE interactions SET embedding = ? WHERE id = ? AND embedding IS NULL`,
		encodeVector(vec), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	// Already embedded; write-once means this is a no-op, not an error.
	return nil
}

// GetEmbedding returns the stored embedding for a record, or nil when none
// has been written yet.
func (s *Store) GetEmbedding(id string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT embedding FROM interactions WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeVector(blob), nil
}

// MissingEmbeddings returns ids of interactions without an embedding, oldest
// first, capped at limit.
func (s *Store) MissingEmbeddings(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM interactions WHERE embedding IS NULL
		ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Export returns training examples for records whose feedback is accepted
// and that match the filter. The completion is the executed command when the
// user edited before running, otherwise the selected candidate. This is a
// deliberate quality filter: only confirmed-good examples become training
// data.
func (s *Store) Export(f Filter) ([]TrainingExample, error) {
	f.Feedback = FeedbackAccepted
	where, args := filterClause(f)

	rows, err := s.db.Query(`SELECT prompt_text, intent, selected_command, executed_command,
		exit_code, cwd, session_id, created_at FROM interactions`+where+
		` ORDER BY created_at ASC, rowid ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrainingExample
	for rows.Next() {
		var (
			prompt, cwd, sessionID     string
			intent, selected, executed sql.NullString
			exitCode                   sql.NullInt64
			createdAt                  float64
		)
		if err := rows.Scan(&prompt, &intent, &selected, &executed, &exitCode, &cwd, &sessionID, &createdAt); err != nil {
			return nil, err
		}

		completion := selected.String
		if executed.Valid && executed.String != "" {
			completion = executed.String
		}
		if completion == "" {
			// Accepted but nothing recorded to run; not usable as training data.
			continue
		}

		ex := TrainingExample{
			Prompt:     prompt,
			Completion: completion,
			Metadata: TrainingMetadata{
				Intent:    intent.String,
				Cwd:       cwd,
				SessionID: sessionID,
				CreatedAt: createdAt,
			},
		}
		if exitCode.Valid {
			v := exitCode.Int64
			ex.Metadata.ExitCode = &v
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Purge deletes interactions created before the cutoff and returns the count
// deleted. Deletion is always explicit; no read path ever triggers it.
func (s *Store) Purge(olderThan time.Time) (int64, error) {
	cutoff := float64(olderThan.UnixNano()) / 1e9
	res, err := s.db.Exec(`DELETE FROM interactions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Info("purged interactions", "older_than", olderThan.UTC().Format(time.RFC3339), "deleted", n)
	return n, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (Interaction, error) {
	var (
		i                          Interaction
		intent, selected, executed sql.NullString
		confidence                 sql.NullFloat64
		exitCode                   sql.NullInt64
		candJSON                   string
	)
	err := row.Scan(&i.ID, &i.CreatedAt, &i.Prompt, &intent, &confidence, &candJSON,
		&selected, &executed, &exitCode, &i.Feedback, &i.Cwd, &i.SessionID, &i.HasEmbedding)
	if err != nil {
		return Interaction{}, err
	}

	i.Intent = intent.String
	if confidence.Valid {
		v := confidence.Float64
		i.IntentConfidence = &v
	}
	i.SelectedCommand = selected.String
	i.ExecutedCommand = executed.String
	if exitCode.Valid {
		v := exitCode.Int64
		i.ExitCode = &v
	}

	if err := json.Unmarshal([]byte(candJSON), &i.Candidates); err != nil {
		return Interaction{}, fmt.Errorf("parsing candidates for %s: %w", i.ID, err)
	}
	return i, nil
}

func filterClause(f Filter) (string, []any) {
	var conds []string
	var args []any

	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, float64(f.Since.UnixNano())/1e9)
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, float64(f.Until.UnixNano())/1e9)
	}
	if f.Feedback != "" {
		conds = append(conds, "feedback = ?")
		args = append(args, string(f.Feedback))
	}
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Intent != "" {
		conds = append(conds, "intent = ?")
		args = append(args, f.Intent)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
