package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"fmt"
	mrand "math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joisarv/civic/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// trackingCodeAlphabet omits ambiguous characters (0/O, 1/I/L) so codes
// survive being read over the phone.
const trackingCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

// trackingCodeLength is short enough to be citizen-friendly; collisions are
// possible and handled by regeneration on insert.
const trackingCodeLength = 8

// maxTrackingCodeAttempts bounds the regenerate-on-collision loop.
const maxTrackingCodeAttempts = 5

// defaultDepartments mirrors the municipal departments the classifier can
// route to. Seeded once on first migration.
var defaultDepartments = []struct {
	Name  string
	Email string
}{
	{"Public Works", "public-works@city.example.gov"},
	{"Disaster Management", "disaster-mgmt@city.example.gov"},
	{"Municipal Cleaning & Sanitation", "sanitation@city.example.gov"},
	{"Electricity Dept", "electricity@city.example.gov"},
	{"Water Department", "water@city.example.gov"},
	{"Transport Department", "transport@city.example.gov"},
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, so
	// the reminder scheduler and request handlers never hit
	// "database is locked" errors when they contend on the same issue.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := mrand.New(mrand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// newTrackingCode generates a short random citizen-facing code.
func newTrackingCode() (string, error) {
	buf := make([]byte, trackingCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate tracking code: %w", err)
	}
	for i, b := range buf {
		buf[i] = trackingCodeAlphabet[int(b)%len(trackingCodeAlphabet)]
	}
	return string(buf), nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Migrate runs all embedded SQL migration files in order, then seeds the
// department table if it is empty.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return s.seedDepartments(ctx)
}

// seedDepartments inserts the default departments when the table is empty.
func (s *SQLiteStore) seedDepartments(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM departments").Scan(&count); err != nil {
		return fmt.Errorf("count departments: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, d := range defaultDepartments {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO departments (id, name, email, created_at) VALUES (?, ?, ?, ?)",
			newULID(), d.Name, d.Email, now,
		)
		if err != nil {
			return fmt.Errorf("seed department %s: %w", d.Name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Departments ---

func (s *SQLiteStore) ListDepartments(ctx context.Context) ([]*models.Department, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM departments ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var depts []*models.Department
	for rows.Next() {
		d := &models.Department{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Email, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}

func (s *SQLiteStore) GetDepartment(ctx context.Context, id string) (*models.Department, error) {
	d := &models.Department{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM departments WHERE id = ?", id,
	).Scan(&d.ID, &d.Name, &d.Email, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "department", Ref: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get department: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) GetDepartmentByName(ctx context.Context, name string) (*models.Department, error) {
	d := &models.Department{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM departments WHERE name = ?", name,
	).Scan(&d.ID, &d.Name, &d.Email, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "department", Ref: name}
	}
	if err != nil {
		return nil, fmt.Errorf("get department by name: %w", err)
	}
	return d, nil
}

// --- Issues ---

// CreateIssue inserts a new issue, assigning the id, tracking code, and
// timestamps. On a tracking-code collision the code is regenerated and the
// insert retried rather than failing the request outward.
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = newULID()
	}
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	for attempt := 0; attempt < maxTrackingCodeAttempts; attempt++ {
		code, err := newTrackingCode()
		if err != nil {
			return err
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO issues (id, tracking_code, reporter_email, address, image_ref, department, status, total_days, current_day, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			issue.ID, code, issue.ReporterEmail, issue.Address, issue.ImageRef,
			issue.Department, string(issue.Status),
			issue.TotalDays, issue.CurrentDay, issue.CreatedAt, issue.UpdatedAt,
		)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create issue: %w", err)
		}
		issue.TrackingCode = code
		return nil
	}
	return fmt.Errorf("create issue: tracking code collisions exhausted %d attempts", maxTrackingCodeAttempts)
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	return s.getIssueWhere(ctx, "id = ?", id, "issue")
}

func (s *SQLiteStore) GetIssueByTrackingCode(ctx context.Context, code string) (*models.Issue, error) {
	return s.getIssueWhere(ctx, "tracking_code = ?", code, "tracking code")
}

func (s *SQLiteStore) getIssueWhere(ctx context.Context, where, arg, kind string) (*models.Issue, error) {
	issue := &models.Issue{}
	var status string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, tracking_code, reporter_email, address, image_ref, department, status, total_days, current_day, created_at, updated_at
		FROM issues WHERE `+where, arg,
	).Scan(&issue.ID, &issue.TrackingCode, &issue.ReporterEmail, &issue.Address,
		&issue.ImageRef, &issue.Department, &status,
		&issue.TotalDays, &issue.CurrentDay, &issue.CreatedAt, &issue.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: kind, Ref: arg}
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}

	issue.Status = models.IssueStatus(status)

	log, err := s.getDayLog(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	issue.DayLog = log
	return issue, nil
}

func (s *SQLiteStore) getDayLog(ctx context.Context, issueID string) ([]models.DayUpdate, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT day, date, description FROM day_updates WHERE issue_id = ? ORDER BY day", issueID)
	if err != nil {
		return nil, fmt.Errorf("get day log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var log []models.DayUpdate
	for rows.Next() {
		var u models.DayUpdate
		if err := rows.Scan(&u.Day, &u.Date, &u.Description); err != nil {
			return nil, fmt.Errorf("scan day update: %w", err)
		}
		log = append(log, u)
	}
	return log, rows.Err()
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, error) {
	query := `SELECT id, tracking_code, reporter_email, address, image_ref, department, status, total_days, current_day, created_at, updated_at FROM issues`
	var conditions []string
	var args []any

	if filter.Department != "" {
		conditions = append(conditions, "department = ?")
		args = append(args, filter.Department)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY
		CASE status WHEN 'pending' THEN 0 WHEN 'in_progress' THEN 1 WHEN 'resolved' THEN 2 WHEN 'rejected' THEN 3 ELSE 4 END,
		created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue := &models.Issue{}
		var status string
		if err := rows.Scan(&issue.ID, &issue.TrackingCode, &issue.ReporterEmail, &issue.Address,
			&issue.ImageRef, &issue.Department, &status,
			&issue.TotalDays, &issue.CurrentDay, &issue.CreatedAt, &issue.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issue.Status = models.IssueStatus(status)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// guardResult maps a zero-row guarded update to NotFound or ErrConflict.
func (s *SQLiteStore) guardResult(ctx context.Context, result sql.Result, id string) error {
	n, _ := result.RowsAffected()
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("check issue: %w", err)
	}
	if exists == 0 {
		return &models.NotFoundError{Kind: "issue", Ref: id}
	}
	return ErrConflict
}

func (s *SQLiteStore) StartProgress(ctx context.Context, id string, totalDays int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A fresh episode starts with an empty day log.
	if _, err := tx.ExecContext(ctx, "DELETE FROM day_updates WHERE issue_id = ?", id); err != nil {
		return fmt.Errorf("clear day log: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE issues SET status = ?, total_days = ?, current_day = 0, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.IssueStatusInProgress), totalDays, time.Now().UTC(),
		id, string(models.IssueStatusPending),
	)
	if err != nil {
		return fmt.Errorf("start progress: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Roll back the day-log delete; the issue was not pending.
		_ = tx.Rollback()
		return s.guardResult(ctx, result, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendDayUpdate(ctx context.Context, id string, day int, description string) (*models.DayUpdate, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The guard enforces exact sequencing: only the issue currently sitting
	// at day-1 can accept this entry, so duplicates and gaps are impossible
	// even if two actors race.
	result, err := tx.ExecContext(ctx,
		`UPDATE issues SET current_day = ?, updated_at = ?
		WHERE id = ? AND status = ? AND current_day = ? AND total_days >= ?`,
		day, now, id, string(models.IssueStatusInProgress), day-1, day,
	)
	if err != nil {
		return nil, fmt.Errorf("advance current day: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Commit nothing; report why through the guard.
		_ = tx.Rollback()
		return nil, s.guardResult(ctx, result, id)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO day_updates (issue_id, day, date, description) VALUES (?, ?, ?, ?)",
		id, day, now, description,
	); err != nil {
		return nil, fmt.Errorf("append day update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &models.DayUpdate{Day: day, Date: now, Description: description}, nil
}

func (s *SQLiteStore) ExtendDeadline(ctx context.Context, id string, extraDays int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET total_days = total_days + ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		extraDays, time.Now().UTC(), id, string(models.IssueStatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("extend deadline: %w", err)
	}
	return s.guardResult(ctx, result, id)
}

func (s *SQLiteStore) MarkResolved(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND current_day = total_days AND total_days > 0`,
		string(models.IssueStatusResolved), time.Now().UTC(),
		id, string(models.IssueStatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	return s.guardResult(ctx, result, id)
}

func (s *SQLiteStore) CountIssuesByStatus(ctx context.Context, department string) (map[models.IssueStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM issues WHERE department = ? GROUP BY status", department)
	if err != nil {
		return nil, fmt.Errorf("count issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.IssueStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[models.IssueStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) ResetIssues(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM day_updates"); err != nil {
		return 0, fmt.Errorf("reset day updates: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM issues")
	if err != nil {
		return 0, fmt.Errorf("reset issues: %w", err)
	}
	n, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}
