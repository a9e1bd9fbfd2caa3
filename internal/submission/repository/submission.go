package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rechub/internal/common/db"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionExists   = errors.New("submission already exists")
)

// Submission is a stored recording keyed by the SHA-256 of its raw
// bytes. ExpectedTime and IsTAS are heuristics derived from the file
// name at upload time.
type Submission struct {
	ID           int64
	Name         string
	Hash         string
	ObjectKey    string
	UploadDate   time.Time
	IsTAS        bool
	ExpectedTime *int64
}

// Cursor is a keyset position in the pending queue, ordered by
// (upload_date, id) ascending. The zero value starts from the oldest
// submission.
type Cursor struct {
	UploadDate time.Time
	ID         int64
}

// IsZero reports whether the cursor is the queue start.
func (c Cursor) IsZero() bool {
	return c.ID == 0 && c.UploadDate.IsZero()
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d:%d", c.UploadDate.UnixMilli(), c.ID)
}

// DecodeCursor parses a token produced by Encode. An empty token
// yields the zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("malformed cursor %q", token)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor %q", token)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor %q", token)
	}
	return Cursor{UploadDate: time.UnixMilli(millis).UTC(), ID: id}, nil
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, sub *Submission) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, id int64) (*Submission, error)
	GetByHash(ctx context.Context, tx db.Transaction, hash string) (*Submission, error)
	ListPending(ctx context.Context, tx db.Transaction, os string, after Cursor, limit int) ([]*Submission, error)
	List(ctx context.Context, tx db.Transaction, limit, offset int, newestFirst bool) ([]*Submission, error)
	Count(ctx context.Context, tx db.Transaction) (int64, error)
	UpdateGuesses(ctx context.Context, tx db.Transaction, id int64, isTAS bool, expectedTime *int64) error
	ForEach(ctx context.Context, fn func(*Submission) error) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	dbProvider db.Provider
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(provider db.Provider) SubmissionRepository {
	return &MySQLSubmissionRepository{dbProvider: provider}
}

const submissionColumns = "id, name, hash, object_key, upload_date, is_tas, expected_time"

func scanSubmission(row interface{ Scan(dest ...interface{}) error }) (*Submission, error) {
	sub := &Submission{}
	var expected sql.NullInt64
	if err := row.Scan(&sub.ID, &sub.Name, &sub.Hash, &sub.ObjectKey, &sub.UploadDate, &sub.IsTAS, &expected); err != nil {
		return nil, err
	}
	if expected.Valid {
		sub.ExpectedTime = &expected.Int64
	}
	return sub, nil
}

// Create inserts a submission and returns the new id. Returns
// ErrSubmissionExists when the content hash is already stored.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, sub *Submission) (int64, error) {
	if sub == nil {
		return 0, errors.New("submission is nil")
	}
	if sub.Hash == "" {
		return 0, errors.New("hash is required")
	}
	if sub.UploadDate.IsZero() {
		sub.UploadDate = time.Now().UTC()
	}

	var expected sql.NullInt64
	if sub.ExpectedTime != nil {
		expected = sql.NullInt64{Int64: *sub.ExpectedTime, Valid: true}
	}

	query := `
		INSERT INTO submissions (name, hash, object_key, upload_date, is_tas, expected_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	result, err := querier.Exec(ctx, query,
		sub.Name, sub.Hash, sub.ObjectKey, sub.UploadDate, sub.IsTAS, expected)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return 0, ErrSubmissionExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ? LIMIT 1"
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	sub, err := scanSubmission(querier.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// GetByHash retrieves a submission by its content hash.
func (r *MySQLSubmissionRepository) GetByHash(ctx context.Context, tx db.Transaction, hash string) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE hash = ? LIMIT 1"
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	sub, err := scanSubmission(querier.QueryRow(ctx, query, hash))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListPending returns submissions that have no recorded run for the
// given platform, oldest upload first, starting strictly after the
// cursor. The keyset keeps pages stable while new uploads arrive.
func (r *MySQLSubmissionRepository) ListPending(ctx context.Context, tx db.Transaction, os string, after Cursor, limit int) ([]*Submission, error) {
	if os == "" {
		return nil, errors.New("os is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + submissionColumns + `
		FROM submissions s
		WHERE NOT EXISTS (
			SELECT 1 FROM runs r WHERE r.submission_id = s.id AND r.os = ?
		)
	`
	args := []interface{}{os}
	if !after.IsZero() {
		query += " AND (s.upload_date > ? OR (s.upload_date = ? AND s.id > ?))"
		args = append(args, after.UploadDate, after.UploadDate, after.ID)
	}
	query += " ORDER BY s.upload_date ASC, s.id ASC LIMIT ?"
	args = append(args, limit)

	return r.queryList(ctx, tx, query, args...)
}

// List returns submissions ordered by upload date.
func (r *MySQLSubmissionRepository) List(ctx context.Context, tx db.Transaction, limit, offset int, newestFirst bool) ([]*Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	direction := "ASC"
	if newestFirst {
		direction = "DESC"
	}
	query := fmt.Sprintf(
		"SELECT %s FROM submissions ORDER BY upload_date %s, id %s LIMIT ? OFFSET ?",
		submissionColumns, direction, direction)
	return r.queryList(ctx, tx, query, limit, offset)
}

// Count returns the total number of submissions.
func (r *MySQLSubmissionRepository) Count(ctx context.Context, tx db.Transaction) (int64, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	var count int64
	row := querier.QueryRow(ctx, "SELECT COUNT(*) FROM submissions")
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateGuesses overwrites the name-derived heuristics of a
// submission.
func (r *MySQLSubmissionRepository) UpdateGuesses(ctx context.Context, tx db.Transaction, id int64, isTAS bool, expectedTime *int64) error {
	var expected sql.NullInt64
	if expectedTime != nil {
		expected = sql.NullInt64{Int64: *expectedTime, Valid: true}
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	_, err = querier.Exec(ctx,
		"UPDATE submissions SET is_tas = ?, expected_time = ? WHERE id = ?",
		isTAS, expected, id)
	return err
}

// ForEach streams every submission through fn in id order. fn
// returning an error stops the scan.
func (r *MySQLSubmissionRepository) ForEach(ctx context.Context, fn func(*Submission) error) error {
	query := "SELECT " + submissionColumns + " FROM submissions ORDER BY id ASC"
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return err
	}
	rows, err := database.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *MySQLSubmissionRepository) queryList(ctx context.Context, tx db.Transaction, query string, args ...interface{}) ([]*Submission, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}
