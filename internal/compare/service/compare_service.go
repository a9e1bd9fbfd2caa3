package service

import (
	"context"

	"rechub/internal/compare/repository"
	subservice "rechub/internal/submission/service"
	apperrors "rechub/pkg/errors"
)

// CompareService answers cross-platform reporting queries: which
// submissions play back differently between two platforms, which runs
// desynced, and rankings over clean runs.
type CompareService struct {
	repo repository.CompareRepository
}

// NewCompareService creates a compare service.
func NewCompareService(repo repository.CompareRepository) *CompareService {
	return &CompareService{repo: repo}
}

// Differences returns mismatched run pairs between two platforms.
func (s *CompareService) Differences(ctx context.Context, os1, os2 string, includeErrors, newestFirst bool, limit, offset int) ([]*repository.Difference, error) {
	if os1 == "" || os2 == "" || os1 == os2 {
		return nil, apperrors.New(apperrors.InvalidOSLabel).WithMessage("need two distinct os labels")
	}
	diffs, err := s.repo.FindDifferences(ctx, os1, os2, includeErrors, newestFirst, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CompareFailed)
	}
	return diffs, nil
}

// DifferenceCount returns the number of mismatched run pairs between
// two platforms.
func (s *CompareService) DifferenceCount(ctx context.Context, os1, os2 string, includeErrors bool) (int64, error) {
	if os1 == "" || os2 == "" || os1 == os2 {
		return 0, apperrors.New(apperrors.InvalidOSLabel).WithMessage("need two distinct os labels")
	}
	count, err := s.repo.CountDifferences(ctx, os1, os2, includeErrors)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CompareFailed)
	}
	return count, nil
}

// Desync is a run whose achieved time falls outside every time the
// submission name could denote.
type Desync struct {
	SubmissionID   int64  `json:"submission_id"`
	SubmissionName string `json:"submission_name"`
	RunID          int64  `json:"run_id"`
	OS             string `json:"os"`
	ExpectedTime   int64  `json:"expected_time"`
	ScoreTime      int64  `json:"score_time"`
}

// Desyncs lists runs considered desynced. An empty os matches all
// platforms.
func (s *CompareService) Desyncs(ctx context.Context, os string) ([]*Desync, error) {
	candidates, err := s.repo.DesyncCandidates(ctx, os)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CompareFailed)
	}

	desyncs := make([]*Desync, 0, len(candidates))
	for _, c := range candidates {
		if !IsDesync(c.SubmissionName, &c.ExpectedTime, true, c.ScoreTime) {
			continue
		}
		desyncs = append(desyncs, &Desync{
			SubmissionID:   c.SubmissionID,
			SubmissionName: c.SubmissionName,
			RunID:          c.RunID,
			OS:             c.OS,
			ExpectedTime:   c.ExpectedTime,
			ScoreTime:      c.ScoreTime,
		})
	}
	return desyncs, nil
}

// IsDesync decides whether a run desynced: a successful playback whose
// achieved time falls outside the inclusive range of times the
// submission name could denote. Failed runs, submissions with no
// expected time and exact matches never count.
func IsDesync(name string, expectedTime *int64, success bool, scoreTime int64) bool {
	if !success {
		return false
	}
	if expectedTime == nil {
		return false
	}
	if scoreTime == *expectedTime {
		return false
	}
	low, high, ok := subservice.GuessTimeRange(name)
	if !ok {
		return false
	}
	return scoreTime < low || scoreTime > high
}

// Leaderboard ranks submissions by a metric over their clean
// successful runs. score_time and elapsed_time rank fastest first,
// fps highest first; worst reverses the ranking.
func (s *CompareService) Leaderboard(ctx context.Context, metric string, worst bool, limit int) ([]*repository.LeaderboardEntry, error) {
	if !repository.LeaderboardMetricExists(metric) {
		return nil, apperrors.Newf(apperrors.InvalidOrdering, "unknown leaderboard metric %q", metric)
	}
	entries, err := s.repo.Leaderboard(ctx, metric, worst, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CompareFailed)
	}
	return entries, nil
}
