package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"rechub/internal/common/cache"
	"rechub/internal/common/storage"
	"rechub/internal/liveness"
	"rechub/internal/submission/repository"
	apperrors "rechub/pkg/errors"
	"rechub/pkg/utils/logger"
)

const (
	// MaxRecordingSize caps uploaded recording files.
	MaxRecordingSize = 32 << 20

	recordingContentType = "application/octet-stream"

	defaultPendingLimit = 50
	maxPendingLimit     = 200

	submissionCacheTTL     = 5 * time.Minute
	submissionNullCacheTTL = 30 * time.Second
)

// SubmissionService owns the recording store and the per-platform
// pending queue.
type SubmissionService struct {
	subs    repository.SubmissionRepository
	runs    repository.RunRepository
	blobs   storage.ObjectStorage
	bucket  string
	tracker *liveness.Tracker
	cache   cache.Cache

	backfillOnce sync.Once
	backfillErr  error
}

// NewSubmissionService creates a submission service. cache may be nil
// to disable the submission read cache.
func NewSubmissionService(
	subs repository.SubmissionRepository,
	runs repository.RunRepository,
	blobs storage.ObjectStorage,
	bucket string,
	tracker *liveness.Tracker,
	c cache.Cache,
) *SubmissionService {
	return &SubmissionService{
		subs:    subs,
		runs:    runs,
		blobs:   blobs,
		bucket:  bucket,
		tracker: tracker,
		cache:   c,
	}
}

// GuessOverrides replaces the name-derived heuristics of a newly
// stored submission. A dedup hit keeps the stored values.
type GuessOverrides struct {
	IsTAS        *bool
	ExpectedTime *int64
}

// CreateOrFind stores a recording, deduplicating on the SHA-256 of
// its raw bytes. When the hash is already known the stored submission
// is returned untouched, keeping its original name and heuristics.
func (s *SubmissionService) CreateOrFind(ctx context.Context, fileName string, data []byte, overrides *GuessOverrides) (*repository.Submission, bool, error) {
	if len(data) == 0 {
		return nil, false, apperrors.New(apperrors.RecordingEmpty)
	}
	if len(data) > MaxRecordingSize {
		return nil, false, apperrors.Newf(apperrors.RecordingTooLarge,
			"recording is %d bytes, limit is %d", len(data), MaxRecordingSize)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.subs.GetByHash(ctx, nil, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrSubmissionNotFound) {
		return nil, false, apperrors.Wrap(err, apperrors.DatabaseError)
	}

	if fileName == "" {
		fileName = fmt.Sprintf("Unnamed_%s.rec", hash[:12])
	}

	objectKey := objectKeyForHash(hash)
	if err := s.blobs.PutObject(ctx, s.bucket, objectKey, io.NopCloser(bytes.NewReader(data)), int64(len(data)), recordingContentType); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ObjectUploadFailed)
	}

	sub := &repository.Submission{
		Name:       fileName,
		Hash:       hash,
		ObjectKey:  objectKey,
		UploadDate: time.Now().UTC(),
		IsTAS:      GuessTAS(fileName),
	}
	if expected, ok := GuessTime(fileName); ok {
		sub.ExpectedTime = &expected
	}
	if overrides != nil {
		if overrides.IsTAS != nil {
			sub.IsTAS = *overrides.IsTAS
		}
		if overrides.ExpectedTime != nil {
			sub.ExpectedTime = overrides.ExpectedTime
		}
	}

	id, err := s.subs.Create(ctx, nil, sub)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionExists) {
			// Lost an insert race on the hash. The winner's row is
			// authoritative.
			winner, getErr := s.subs.GetByHash(ctx, nil, hash)
			if getErr != nil {
				return nil, false, apperrors.Wrap(getErr, apperrors.DatabaseError)
			}
			return winner, false, nil
		}
		return nil, false, apperrors.Wrap(err, apperrors.SubmissionCreateFailed)
	}
	sub.ID = id
	return sub, true, nil
}

// Get returns a submission by id, through the read cache when one is
// configured. Absence is cached briefly to blunt probing for ids that
// do not exist.
func (s *SubmissionService) Get(ctx context.Context, id int64) (*repository.Submission, error) {
	if s.cache == nil {
		sub, err := s.subs.GetByID(ctx, nil, id)
		if err != nil {
			if errors.Is(err, repository.ErrSubmissionNotFound) {
				return nil, apperrors.Newf(apperrors.SubmissionNotFound, "submission %d not found", id)
			}
			return nil, apperrors.Wrap(err, apperrors.DatabaseError)
		}
		return sub, nil
	}

	sub, err := cache.GetWithCached(ctx, s.cache, submissionCacheKey(id),
		cache.JitterTTL(submissionCacheTTL), submissionNullCacheTTL,
		func(sub *repository.Submission) bool { return sub == nil },
		marshalSubmission, unmarshalSubmission,
		func(ctx context.Context) (*repository.Submission, error) {
			sub, err := s.subs.GetByID(ctx, nil, id)
			if err != nil {
				if errors.Is(err, repository.ErrSubmissionNotFound) {
					return nil, nil
				}
				return nil, apperrors.Wrap(err, apperrors.DatabaseError)
			}
			return sub, nil
		})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperrors.Newf(apperrors.SubmissionNotFound, "submission %d not found", id)
	}
	return sub, nil
}

func submissionCacheKey(id int64) string {
	return fmt.Sprintf("submission:%d", id)
}

func marshalSubmission(sub *repository.Submission) string {
	data, err := json.Marshal(sub)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(raw string) (*repository.Submission, error) {
	sub := &repository.Submission{}
	if err := json.Unmarshal([]byte(raw), sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// List returns submissions ordered by upload date.
func (s *SubmissionService) List(ctx context.Context, limit, offset int, newestFirst bool) ([]*repository.Submission, int64, error) {
	subs, err := s.subs.List(ctx, nil, limit, offset, newestFirst)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.DatabaseError)
	}
	total, err := s.subs.Count(ctx, nil)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.DatabaseError)
	}
	return subs, total, nil
}

// Download opens the stored recording bytes of a submission.
func (s *SubmissionService) Download(ctx context.Context, id int64) (*repository.Submission, io.ReadCloser, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	reader, err := s.blobs.GetObject(ctx, s.bucket, sub.ObjectKey)
	if err != nil {
		return nil, nil, apperrors.Wrapf(err, apperrors.DownloadFailed, "open object %s failed", sub.ObjectKey)
	}
	return sub, reader, nil
}

// Pending returns a page of submissions that still need a run on the
// given platform, oldest upload first. The caller identity is marked
// live.
func (s *SubmissionService) Pending(ctx context.Context, identity, os, cursorToken string, limit int) ([]*repository.Submission, string, error) {
	if os == "" {
		return nil, "", apperrors.New(apperrors.InvalidOSLabel)
	}
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}

	after, err := repository.DecodeCursor(cursorToken)
	if err != nil {
		return nil, "", apperrors.BadRequest(err.Error())
	}

	s.tracker.Touch(identity, time.Now())

	subs, err := s.subs.ListPending(ctx, nil, os, after, limit)
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.DatabaseError)
	}

	nextCursor := ""
	if len(subs) == limit {
		last := subs[len(subs)-1]
		nextCursor = repository.Cursor{UploadDate: last.UploadDate, ID: last.ID}.Encode()
	}
	return subs, nextCursor, nil
}

// ScoreInput is a parsed playback outcome as reported by a runner.
type ScoreInput struct {
	Success     bool    `json:"success"`
	Mission     string  `json:"mission"`
	LevelName   string  `json:"level_name"`
	ScoreTime   int64   `json:"score_time"`
	ElapsedTime int64   `json:"elapsed_time"`
	BonusTime   int64   `json:"bonus_time"`
	GemCount    int64   `json:"gem_count"`
	GemTotal    int64   `json:"gem_total"`
	FPS         float64 `json:"fps"`
	FramesCount int64   `json:"frames_count"`
	FramesTime  int64   `json:"frames_time"`
}

// ReportRun records a verification outcome for a submission. Exactly
// one of score and errText must be set. The caller identity is marked
// live. Repeated reports for the same platform append further runs.
func (s *SubmissionService) ReportRun(ctx context.Context, identity string, submissionID int64, os string, score *ScoreInput, errText *string) (*repository.Run, error) {
	if os == "" {
		return nil, apperrors.New(apperrors.InvalidOSLabel)
	}
	if (score == nil) == (errText == nil) {
		return nil, apperrors.New(apperrors.RunScoreConflict)
	}

	if _, err := s.Get(ctx, submissionID); err != nil {
		return nil, err
	}

	s.tracker.Touch(identity, time.Now())

	run := &repository.Run{
		SubmissionID: submissionID,
		OS:           os,
		RunDate:      time.Now().UTC(),
		Error:        errText,
	}
	if score != nil {
		run.Score = &repository.Score{
			Success:     score.Success,
			Mission:     score.Mission,
			LevelName:   score.LevelName,
			ScoreTime:   score.ScoreTime,
			ElapsedTime: score.ElapsedTime,
			BonusTime:   score.BonusTime,
			GemCount:    score.GemCount,
			GemTotal:    score.GemTotal,
			FPS:         score.FPS,
			FramesCount: score.FramesCount,
			FramesTime:  score.FramesTime,
		}
	}

	if _, err := s.runs.Create(ctx, run); err != nil {
		if errors.Is(err, repository.ErrRunConflict) {
			return nil, apperrors.New(apperrors.RunScoreConflict)
		}
		return nil, apperrors.Wrap(err, apperrors.RunCreateFailed)
	}
	return run, nil
}

// Runs lists all recorded runs of a submission, newest first.
func (s *SubmissionService) Runs(ctx context.Context, submissionID int64) ([]*repository.Run, error) {
	if _, err := s.Get(ctx, submissionID); err != nil {
		return nil, err
	}
	runs, err := s.runs.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError)
	}
	return runs, nil
}

// BestRun picks the best recorded run of a submission, or nil when
// the submission has no runs yet.
func (s *SubmissionService) BestRun(ctx context.Context, submissionID int64) (*repository.Run, error) {
	best, err := s.runs.BestBySubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.DatabaseError)
	}
	return best, nil
}

// RecentRuns lists the most recently recorded runs across all
// submissions.
func (s *SubmissionService) RecentRuns(ctx context.Context, limit int) ([]*repository.Run, error) {
	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError)
	}
	return runs, nil
}

// BackfillGuesses derives the name-based heuristics for stored
// submissions that are missing them. It runs at most once per process
// and is meant to be called synchronously after construction, so newly
// deployed heuristics apply to rows stored before them. Stored values
// win: a TAS mark is never unset and an expected time already on the
// row is never touched.
func (s *SubmissionService) BackfillGuesses(ctx context.Context) error {
	s.backfillOnce.Do(func() {
		updated := 0
		s.backfillErr = s.subs.ForEach(ctx, func(sub *repository.Submission) error {
			isTAS := sub.IsTAS || GuessTAS(sub.Name)
			expected := sub.ExpectedTime
			if expected == nil {
				if v, ok := GuessTime(sub.Name); ok {
					expected = &v
				}
			}
			if isTAS == sub.IsTAS && equalInt64Ptr(expected, sub.ExpectedTime) {
				return nil
			}
			if err := s.subs.UpdateGuesses(ctx, nil, sub.ID, isTAS, expected); err != nil {
				return err
			}
			if s.cache != nil {
				_ = s.cache.Del(ctx, submissionCacheKey(sub.ID))
			}
			updated++
			return nil
		})
		if s.backfillErr == nil && updated > 0 {
			logger.Info(ctx, "backfilled submission heuristics", zap.Int("updated", updated))
		}
	})
	return s.backfillErr
}

func objectKeyForHash(hash string) string {
	return "recordings/" + hash + ".rec"
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
