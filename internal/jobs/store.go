package jobs

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"carto/internal/logging"
)

// Store provides persistence for jobs in a separate SQLite database.
type Store struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string
}

// OpenStore opens or creates the jobs database at <cartoDir>/jobs.db
func OpenStore(cartoDir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(cartoDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dbPath := filepath.Join(cartoDir, "jobs.db")
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs database: %w", err)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-16000", // 16MB cache
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &Store{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	if !dbExists {
		logger.Info("Creating jobs database", map[string]interface{}{
			"path": dbPath,
		})
	}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize jobs schema: %w", err)
	}

	return store, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			remote_id TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			total_chunks INTEGER NOT NULL DEFAULT 0,
			processed_chunks INTEGER NOT NULL DEFAULT 0,
			batch_size INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

		CREATE TABLE IF NOT EXISTS file_hashes (
			path TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			last_indexed TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_hashes_indexed ON file_hashes(last_indexed);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// CreateJob inserts a new job into the database.
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (id, remote_id, status, total_chunks, processed_chunks, batch_size, created_at, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.Exec(query,
		job.ID,
		nullString(job.RemoteID),
		string(job.Status),
		job.TotalChunks,
		job.ProcessedChunks,
		job.BatchSize,
		job.CreatedAt.Format(time.RFC3339),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.Error),
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug("Created job", map[string]interface{}{
		"jobId":       job.ID,
		"totalChunks": job.TotalChunks,
	})

	return nil
}

// GetJob retrieves a job by ID. Returns (nil, nil) when no such job exists.
func (s *Store) GetJob(id string) (*Job, error) {
	query := `
		SELECT id, remote_id, status, total_chunks, processed_chunks, batch_size, created_at, started_at, completed_at, error
		FROM jobs WHERE id = ?
	`

	row := s.conn.QueryRow(query, id)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// UpdateJob updates an existing job.
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE jobs SET
			remote_id = ?,
			status = ?,
			processed_chunks = ?,
			batch_size = ?,
			started_at = ?,
			completed_at = ?,
			error = ?
		WHERE id = ?
	`

	result, err := s.conn.Exec(query,
		nullString(job.RemoteID),
		string(job.Status),
		job.ProcessedChunks,
		job.BatchSize,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.Error),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("job not found: %s", job.ID)
	}

	return nil
}

// ListJobs retrieves jobs matching the given options, newest first.
func (s *Store) ListJobs(opts ListOptions) ([]*Job, int, error) {
	var conditions []string
	var args []interface{}

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, status := range opts.Status {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM jobs %s", whereClause)
	var totalCount int
	if err := s.conn.QueryRow(countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, remote_id, status, total_chunks, processed_chunks, batch_size, created_at, started_at, completed_at, error
		FROM jobs %s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, whereClause)

	args = append(args, limit, opts.Offset)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating jobs: %w", err)
	}

	return list, totalCount, nil
}

// GetActiveJob returns the most recent queued or running job, if any.
func (s *Store) GetActiveJob() (*Job, error) {
	query := `
		SELECT id, remote_id, status, total_chunks, processed_chunks, batch_size, created_at, started_at, completed_at, error
		FROM jobs WHERE status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := s.conn.QueryRow(query)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// CleanupOldJobs removes terminal jobs older than the given duration.
func (s *Store) CleanupOldJobs(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	result, err := s.conn.Exec(`
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old jobs: %w", err)
	}

	return result.RowsAffected()
}

// scanJob reads one row via the given scan function (sql.Row or sql.Rows).
func scanJob(scan func(...interface{}) error) (*Job, error) {
	var job Job
	var remoteID, startedAt, completedAt, errMsg sql.NullString
	var status, createdAt string

	err := scan(
		&job.ID,
		&remoteID,
		&status,
		&job.TotalChunks,
		&job.ProcessedChunks,
		&job.BatchSize,
		&createdAt,
		&startedAt,
		&completedAt,
		&errMsg,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Status = Status(status)
	job.RemoteID = remoteID.String
	job.Error = errMsg.String

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		job.CreatedAt = t
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			job.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			job.CompletedAt = &t
		}
	}

	return &job, nil
}

// Helper functions for nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// File hash operations for incremental refresh

// FileHash records the content hash a path had when it was last indexed.
type FileHash struct {
	Path        string
	Hash        string
	LastIndexed time.Time
}

// GetFileHash retrieves one file's last-indexed hash, or nil when unknown.
func (s *Store) GetFileHash(path string) (*FileHash, error) {
	var fh FileHash
	var lastIndexed string

	err := s.conn.QueryRow(`
		SELECT path, hash, last_indexed FROM file_hashes WHERE path = ?
	`, path).Scan(&fh.Path, &fh.Hash, &lastIndexed)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, lastIndexed); err == nil {
		fh.LastIndexed = t
	}

	return &fh, nil
}

// SaveFileHash saves or updates a file's last-indexed hash.
func (s *Store) SaveFileHash(fh *FileHash) error {
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO file_hashes (path, hash, last_indexed)
		VALUES (?, ?, ?)
	`, fh.Path, fh.Hash, fh.LastIndexed.Format(time.RFC3339))
	return err
}

// DeleteFileHash removes a path's record after the file is deleted.
func (s *Store) DeleteFileHash(path string) error {
	_, err := s.conn.Exec("DELETE FROM file_hashes WHERE path = ?", path)
	return err
}

// GetAllHashes retrieves all last-indexed hashes keyed by path.
func (s *Store) GetAllHashes() (map[string]string, error) {
	rows, err := s.conn.Query("SELECT path, hash FROM file_hashes")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}

	return hashes, rows.Err()
}

// ClearHashes removes all file hash records.
func (s *Store) ClearHashes() error {
	_, err := s.conn.Exec("DELETE FROM file_hashes")
	return err
}
