package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rechub/internal/common/db"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunConflict = errors.New("run needs either a score or an error, but not both")
)

// Score is the parsed outcome of a successful or failed playback.
// A FAILURE playback keeps mission, level and frame statistics but
// zeroes the timing fields.
type Score struct {
	ID          int64
	Success     bool
	Mission     string
	LevelName   string
	ScoreTime   int64
	ElapsedTime int64
	BonusTime   int64
	GemCount    int64
	GemTotal    int64
	FPS         float64
	FramesCount int64
	FramesTime  int64
}

// Run records one verification attempt of a submission on a platform.
// Exactly one of Score and Error is set.
type Run struct {
	ID           int64
	SubmissionID int64
	OS           string
	RunDate      time.Time
	Score        *Score
	Error        *string
}

// RunRepository defines run persistence interfaces.
type RunRepository interface {
	Create(ctx context.Context, run *Run) (int64, error)
	GetByID(ctx context.Context, id int64) (*Run, error)
	ListBySubmission(ctx context.Context, submissionID int64) ([]*Run, error)
	ListRecent(ctx context.Context, limit int) ([]*Run, error)
	BestBySubmission(ctx context.Context, submissionID int64) (*Run, error)
	CountBySubmission(ctx context.Context, submissionID int64) (int64, error)
}

// MySQLRunRepository implements RunRepository with MySQL.
type MySQLRunRepository struct {
	dbProvider db.Provider
}

// NewRunRepository creates a run repository.
func NewRunRepository(provider db.Provider) RunRepository {
	return &MySQLRunRepository{dbProvider: provider}
}

// Create inserts the run and its score, if any, in one transaction.
func (r *MySQLRunRepository) Create(ctx context.Context, run *Run) (int64, error) {
	if run == nil {
		return 0, errors.New("run is nil")
	}
	if run.SubmissionID == 0 {
		return 0, errors.New("submissionID is required")
	}
	if run.OS == "" {
		return 0, errors.New("os is required")
	}
	if (run.Score == nil) == (run.Error == nil) {
		return 0, ErrRunConflict
	}
	if run.RunDate.IsZero() {
		run.RunDate = time.Now().UTC()
	}

	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return 0, err
	}

	var runID int64
	err = database.Transaction(ctx, func(tx db.Transaction) error {
		var scoreID sql.NullInt64
		if run.Score != nil {
			id, err := insertScore(ctx, tx, run.Score)
			if err != nil {
				return err
			}
			run.Score.ID = id
			scoreID = sql.NullInt64{Int64: id, Valid: true}
		}

		var runErr sql.NullString
		if run.Error != nil {
			runErr = sql.NullString{String: *run.Error, Valid: true}
		}

		result, err := tx.Exec(ctx, `
			INSERT INTO runs (submission_id, os, run_date, score_id, error)
			VALUES (?, ?, ?, ?, ?)
		`, run.SubmissionID, run.OS, run.RunDate, scoreID, runErr)
		if err != nil {
			return err
		}
		runID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	run.ID = runID
	return runID, nil
}

func insertScore(ctx context.Context, tx db.Transaction, score *Score) (int64, error) {
	result, err := tx.Exec(ctx, `
		INSERT INTO scores (success, mission, level_name, score_time, elapsed_time,
			bonus_time, gem_count, gem_total, fps, frames_count, frames_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, score.Success, score.Mission, score.LevelName, score.ScoreTime, score.ElapsedTime,
		score.BonusTime, score.GemCount, score.GemTotal, score.FPS, score.FramesCount, score.FramesTime)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const runSelect = `
	SELECT r.id, r.submission_id, r.os, r.run_date, r.error,
		s.id, s.success, s.mission, s.level_name, s.score_time, s.elapsed_time,
		s.bonus_time, s.gem_count, s.gem_total, s.fps, s.frames_count, s.frames_time
	FROM runs r
	LEFT JOIN scores s ON s.id = r.score_id
`

func scanRun(row interface{ Scan(dest ...interface{}) error }) (*Run, error) {
	run := &Run{}
	var (
		runErr      sql.NullString
		scoreID     sql.NullInt64
		success     sql.NullBool
		mission     sql.NullString
		levelName   sql.NullString
		scoreTime   sql.NullInt64
		elapsedTime sql.NullInt64
		bonusTime   sql.NullInt64
		gemCount    sql.NullInt64
		gemTotal    sql.NullInt64
		fps         sql.NullFloat64
		framesCount sql.NullInt64
		framesTime  sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.SubmissionID, &run.OS, &run.RunDate, &runErr,
		&scoreID, &success, &mission, &levelName, &scoreTime, &elapsedTime,
		&bonusTime, &gemCount, &gemTotal, &fps, &framesCount, &framesTime)
	if err != nil {
		return nil, err
	}
	if runErr.Valid {
		run.Error = &runErr.String
	}
	if scoreID.Valid {
		run.Score = &Score{
			ID:          scoreID.Int64,
			Success:     success.Bool,
			Mission:     mission.String,
			LevelName:   levelName.String,
			ScoreTime:   scoreTime.Int64,
			ElapsedTime: elapsedTime.Int64,
			BonusTime:   bonusTime.Int64,
			GemCount:    gemCount.Int64,
			GemTotal:    gemTotal.Int64,
			FPS:         fps.Float64,
			FramesCount: framesCount.Int64,
			FramesTime:  framesTime.Int64,
		}
	}
	return run, nil
}

// GetByID retrieves a run with its score.
func (r *MySQLRunRepository) GetByID(ctx context.Context, id int64) (*Run, error) {
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return nil, err
	}
	run, err := scanRun(database.QueryRow(ctx, runSelect+" WHERE r.id = ? LIMIT 1", id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListBySubmission returns all runs of a submission, newest first.
func (r *MySQLRunRepository) ListBySubmission(ctx context.Context, submissionID int64) ([]*Run, error) {
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return nil, err
	}
	rows, err := database.Query(ctx, runSelect+" WHERE r.submission_id = ? ORDER BY r.run_date DESC, r.id DESC", submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// ListRecent returns the most recently recorded runs across all
// submissions, newest first.
func (r *MySQLRunRepository) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return nil, err
	}
	rows, err := database.Query(ctx, runSelect+" ORDER BY r.run_date DESC, r.id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// BestBySubmission picks a submission's best run: scored runs beat
// errored ones, successful playbacks beat failures, then the lowest
// score time wins. Returns ErrRunNotFound when the submission has no
// runs.
func (r *MySQLRunRepository) BestBySubmission(ctx context.Context, submissionID int64) (*Run, error) {
	query := runSelect + `
	WHERE r.submission_id = ?
	ORDER BY (r.error IS NULL) DESC, s.success DESC, s.score_time ASC, r.id ASC
	LIMIT 1`
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return nil, err
	}
	run, err := scanRun(database.QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// CountBySubmission returns how many runs a submission has.
func (r *MySQLRunRepository) CountBySubmission(ctx context.Context, submissionID int64) (int64, error) {
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return 0, err
	}
	var count int64
	row := database.QueryRow(ctx, "SELECT COUNT(*) FROM runs WHERE submission_id = ?", submissionID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
