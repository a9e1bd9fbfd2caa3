package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rechub/internal/common/db"
)

// RunSummary is one side of a cross-platform comparison.
type RunSummary struct {
	RunID       int64     `json:"run_id"`
	RunDate     time.Time `json:"run_date"`
	Error       *string   `json:"error,omitempty"`
	Success     bool      `json:"success"`
	ScoreTime   int64     `json:"score_time"`
	ElapsedTime int64     `json:"elapsed_time"`
	BonusTime   int64     `json:"bonus_time"`
}

// Difference pairs two runs of the same submission on different
// platforms whose outcomes disagree.
type Difference struct {
	SubmissionID   int64      `json:"submission_id"`
	SubmissionName string     `json:"submission_name"`
	UploadDate     time.Time  `json:"upload_date"`
	First          RunSummary `json:"first"`
	Second         RunSummary `json:"second"`
}

// DesyncCandidate is a successful run whose score time may disagree
// with the time encoded in the submission name. The final decision
// needs the name heuristics and is taken in the service.
type DesyncCandidate struct {
	SubmissionID   int64
	SubmissionName string
	ExpectedTime   int64
	RunID          int64
	OS             string
	ScoreTime      int64
}

// LeaderboardEntry is one row of a ranking over successful runs,
// unique per submission.
type LeaderboardEntry struct {
	SubmissionID   int64   `json:"submission_id"`
	SubmissionName string  `json:"submission_name"`
	Value          float64 `json:"value"`
}

// CompareRepository runs the cross-platform reporting queries.
type CompareRepository interface {
	FindDifferences(ctx context.Context, os1, os2 string, includeErrors, newestFirst bool, limit, offset int) ([]*Difference, error)
	CountDifferences(ctx context.Context, os1, os2 string, includeErrors bool) (int64, error)
	DesyncCandidates(ctx context.Context, os string) ([]*DesyncCandidate, error)
	Leaderboard(ctx context.Context, metric string, worst bool, limit int) ([]*LeaderboardEntry, error)
}

// MySQLCompareRepository implements CompareRepository with MySQL.
type MySQLCompareRepository struct {
	dbProvider db.Provider
}

// NewCompareRepository creates a compare repository.
func NewCompareRepository(provider db.Provider) CompareRepository {
	return &MySQLCompareRepository{dbProvider: provider}
}

// Every run of os1 is paired with every run of os2 on the same
// submission. Repeated runs therefore produce repeated pairs, which
// keeps flaky platforms visible instead of hiding them behind a
// latest-run pick.
const differenceJoin = `
	FROM submissions sub
	JOIN runs r1 ON r1.submission_id = sub.id AND r1.os = ?
	JOIN runs r2 ON r2.submission_id = sub.id AND r2.os = ?
	LEFT JOIN scores s1 ON s1.id = r1.score_id
	LEFT JOIN scores s2 ON s2.id = r2.score_id
`

const strictMismatch = `
	(NOT (r1.error <=> r2.error)
	 OR NOT (s1.success <=> s2.success)
	 OR NOT (s1.score_time <=> s2.score_time)
	 OR NOT (s1.elapsed_time <=> s2.elapsed_time)
	 OR NOT (s1.bonus_time <=> s2.bonus_time))
`

const cleanMismatch = `
	(r1.error IS NULL AND r2.error IS NULL
	 AND s1.success AND s2.success
	 AND (s1.score_time <> s2.score_time
	  OR s1.elapsed_time <> s2.elapsed_time
	  OR s1.bonus_time <> s2.bonus_time))
`

func mismatchPredicate(includeErrors bool) string {
	if includeErrors {
		return strictMismatch
	}
	return cleanMismatch
}

// FindDifferences returns run pairs between two platforms whose
// outcomes disagree. With includeErrors, error-vs-score and
// error-vs-error mismatches count too; otherwise only timing drift
// between clean successful runs does.
func (r *MySQLCompareRepository) FindDifferences(ctx context.Context, os1, os2 string, includeErrors, newestFirst bool, limit, offset int) ([]*Difference, error) {
	if os1 == "" || os2 == "" {
		return nil, errors.New("both os labels are required")
	}
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

	query := fmt.Sprintf(`
		SELECT sub.id, sub.name, sub.upload_date,
			r1.id, r1.run_date, r1.error,
			COALESCE(s1.success, FALSE), COALESCE(s1.score_time, 0),
			COALESCE(s1.elapsed_time, 0), COALESCE(s1.bonus_time, 0),
			r2.id, r2.run_date, r2.error,
			COALESCE(s2.success, FALSE), COALESCE(s2.score_time, 0),
			COALESCE(s2.elapsed_time, 0), COALESCE(s2.bonus_time, 0)
		%s
		WHERE %s
		ORDER BY sub.upload_date %s, sub.id %s, r1.id ASC, r2.id ASC
		LIMIT ? OFFSET ?
	`, differenceJoin, mismatchPredicate(includeErrors), direction, direction)

	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return nil, err
	}
	rows, err := database.Query(ctx, query, os1, os2, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var diffs []*Difference
	for rows.Next() {
		diff := &Difference{}
		var err1, err2 sql.NullString
		err := rows.Scan(
			&diff.SubmissionID, &diff.SubmissionName, &diff.UploadDate,
			&diff.First.RunID, &diff.First.RunDate, &err1,
			&diff.First.Success, &diff.First.ScoreTime, &diff.First.ElapsedTime, &diff.First.BonusTime,
			&diff.Second.RunID, &diff.Second.RunDate, &err2,
			&diff.Second.Success, &diff.Second.ScoreTime, &diff.Second.ElapsedTime, &diff.Second.BonusTime,
		)
		if err != nil {
			return nil, err
		}
		if err1.Valid {
			diff.First.Error = &err1.String
		}
		if err2.Valid {
			diff.Second.Error = &err2.String
		}
		diffs = append(diffs, diff)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return diffs, nil
}

// CountDifferences returns the number of mismatched run pairs between
// two platforms.
func (r *MySQLCompareRepository) CountDifferences(ctx context.Context, os1, os2 string, includeErrors bool) (int64, error) {
	if os1 == "" || os2 == "" {
		return 0, errors.New("both os labels are required")
	}
	query := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", differenceJoin, mismatchPredicate(includeErrors))
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return 0, err
	}
	var count int64
	row := database.QueryRow(ctx, query, os1, os2)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DesyncCandidates returns successful runs whose score time differs
// from the expected time stored on the submission. An empty os
// matches all platforms.
func (r *MySQLCompareRepository) DesyncCandidates(ctx context.Context, os string) ([]*DesyncCandidate, error) {
	query := `
		SELECT sub.id, sub.name, sub.expected_time, r.id, r.os, s.score_time
		FROM submissions sub
		JOIN runs r ON r.submission_id = sub.id
		JOIN scores s ON s.id = r.score_id
		WHERE r.error IS NULL
		  AND s.success
		  AND sub.expected_time IS NOT NULL
		  AND s.score_time <> sub.expected_time
	`
	args := []interface{}{}
	if os != "" {
		query += " AND r.os = ?"
		args = append(args, os)
	}
	query += " ORDER BY sub.upload_date ASC, r.id ASC"

	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return nil, err
	}
	rows, err := database.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*DesyncCandidate
	for rows.Next() {
		c := &DesyncCandidate{}
		if err := rows.Scan(&c.SubmissionID, &c.SubmissionName, &c.ExpectedTime, &c.RunID, &c.OS, &c.ScoreTime); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// leaderboardMetric holds the aggregate expressions over a
// submission's successful runs. Timing metrics rank low values as
// best, fps ranks high values as best.
type leaderboardMetric struct {
	best          string
	worst         string
	bestAscending bool
}

var leaderboardMetrics = map[string]leaderboardMetric{
	"score_time":   {best: "MIN(s.score_time)", worst: "MAX(s.score_time)", bestAscending: true},
	"elapsed_time": {best: "MIN(s.elapsed_time)", worst: "MAX(s.elapsed_time)", bestAscending: true},
	"fps":          {best: "MAX(s.fps)", worst: "MIN(s.fps)", bestAscending: false},
}

// LeaderboardMetricExists reports whether the metric name is known.
func LeaderboardMetricExists(metric string) bool {
	_, ok := leaderboardMetrics[metric]
	return ok
}

// leaderboardFilter narrows the runs a board aggregates over.
// Tool-assisted submissions can post arbitrary frame rates, so only
// the highest-fps board leaves them out; every timing board ranks
// them alongside human play.
func leaderboardFilter(metric string, worst bool) string {
	filter := "r.error IS NULL AND s.success"
	if metric == "fps" && !worst {
		filter += " AND sub.is_tas = FALSE"
	}
	return filter
}

// Leaderboard ranks submissions by an aggregate over their clean
// successful runs.
func (r *MySQLCompareRepository) Leaderboard(ctx context.Context, metric string, worst bool, limit int) ([]*LeaderboardEntry, error) {
	m, ok := leaderboardMetrics[metric]
	if !ok {
		return nil, fmt.Errorf("unknown leaderboard metric %q", metric)
	}
	if limit <= 0 {
		limit = 20
	}
	expr := m.best
	ascending := m.bestAscending
	if worst {
		expr = m.worst
		ascending = !ascending
	}
	direction := "DESC"
	if ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT sub.id, sub.name, %s AS value
		FROM submissions sub
		JOIN runs r ON r.submission_id = sub.id
		JOIN scores s ON s.id = r.score_id
		WHERE %s
		GROUP BY sub.id, sub.name
		ORDER BY value %s, sub.id ASC
		LIMIT ?
	`, expr, leaderboardFilter(metric, worst), direction)

	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return nil, err
	}
	rows, err := database.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LeaderboardEntry
	for rows.Next() {
		entry := &LeaderboardEntry{}
		if err := rows.Scan(&entry.SubmissionID, &entry.SubmissionName, &entry.Value); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
