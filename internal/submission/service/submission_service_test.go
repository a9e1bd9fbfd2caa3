package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"rechub/internal/common/cache"
	"rechub/internal/common/db"
	"rechub/internal/common/storage"
	"rechub/internal/liveness"
	"rechub/internal/submission/repository"
	apperrors "rechub/pkg/errors"
)

type fakeSubmissionRepo struct {
	nextID int64
	byID   map[int64]*repository.Submission
	byHash map[string]*repository.Submission
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{
		nextID: 1,
		byID:   make(map[int64]*repository.Submission),
		byHash: make(map[string]*repository.Submission),
	}
}

func (f *fakeSubmissionRepo) Create(_ context.Context, _ db.Transaction, sub *repository.Submission) (int64, error) {
	if _, exists := f.byHash[sub.Hash]; exists {
		return 0, repository.ErrSubmissionExists
	}
	stored := *sub
	stored.ID = f.nextID
	f.nextID++
	f.byID[stored.ID] = &stored
	f.byHash[stored.Hash] = &stored
	return stored.ID, nil
}

func (f *fakeSubmissionRepo) GetByID(_ context.Context, _ db.Transaction, id int64) (*repository.Submission, error) {
	sub, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeSubmissionRepo) GetByHash(_ context.Context, _ db.Transaction, hash string) (*repository.Submission, error) {
	sub, ok := f.byHash[hash]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeSubmissionRepo) sorted() []*repository.Submission {
	subs := make([]*repository.Submission, 0, len(f.byID))
	for _, sub := range f.byID {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].UploadDate.Equal(subs[j].UploadDate) {
			return subs[i].UploadDate.Before(subs[j].UploadDate)
		}
		return subs[i].ID < subs[j].ID
	})
	return subs
}

func (f *fakeSubmissionRepo) ListPending(_ context.Context, _ db.Transaction, os string, after repository.Cursor, limit int) ([]*repository.Submission, error) {
	var out []*repository.Submission
	for _, sub := range f.sorted() {
		if !after.IsZero() {
			if sub.UploadDate.Before(after.UploadDate) {
				continue
			}
			if sub.UploadDate.Equal(after.UploadDate) && sub.ID <= after.ID {
				continue
			}
		}
		out = append(out, sub)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) List(_ context.Context, _ db.Transaction, limit, offset int, newestFirst bool) ([]*repository.Submission, error) {
	subs := f.sorted()
	if newestFirst {
		for i, j := 0, len(subs)-1; i < j; i, j = i+1, j-1 {
			subs[i], subs[j] = subs[j], subs[i]
		}
	}
	if offset >= len(subs) {
		return nil, nil
	}
	subs = subs[offset:]
	if len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (f *fakeSubmissionRepo) Count(_ context.Context, _ db.Transaction) (int64, error) {
	return int64(len(f.byID)), nil
}

func (f *fakeSubmissionRepo) UpdateGuesses(_ context.Context, _ db.Transaction, id int64, isTAS bool, expectedTime *int64) error {
	sub, ok := f.byID[id]
	if !ok {
		return nil
	}
	sub.IsTAS = isTAS
	sub.ExpectedTime = expectedTime
	return nil
}

func (f *fakeSubmissionRepo) ForEach(_ context.Context, fn func(*repository.Submission) error) error {
	for _, sub := range f.sorted() {
		if err := fn(sub); err != nil {
			return err
		}
	}
	return nil
}

type fakeRunRepo struct {
	nextID int64
	runs   []*repository.Run
}

func (f *fakeRunRepo) Create(_ context.Context, run *repository.Run) (int64, error) {
	if (run.Score == nil) == (run.Error == nil) {
		return 0, repository.ErrRunConflict
	}
	f.nextID++
	stored := *run
	stored.ID = f.nextID
	f.runs = append(f.runs, &stored)
	return stored.ID, nil
}

func (f *fakeRunRepo) GetByID(_ context.Context, id int64) (*repository.Run, error) {
	for _, run := range f.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, repository.ErrRunNotFound
}

func (f *fakeRunRepo) ListBySubmission(_ context.Context, submissionID int64) ([]*repository.Run, error) {
	var out []*repository.Run
	for _, run := range f.runs {
		if run.SubmissionID == submissionID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) ListRecent(_ context.Context, limit int) ([]*repository.Run, error) {
	out := make([]*repository.Run, len(f.runs))
	copy(out, f.runs)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRunRepo) BestBySubmission(_ context.Context, submissionID int64) (*repository.Run, error) {
	var best *repository.Run
	for _, run := range f.runs {
		if run.SubmissionID != submissionID {
			continue
		}
		if best == nil || runRanksHigher(run, best) {
			best = run
		}
	}
	if best == nil {
		return nil, repository.ErrRunNotFound
	}
	return best, nil
}

func runRanksHigher(a, b *repository.Run) bool {
	if (a.Score != nil) != (b.Score != nil) {
		return a.Score != nil
	}
	if a.Score == nil {
		return false
	}
	if a.Score.Success != b.Score.Success {
		return a.Score.Success
	}
	return a.Score.ScoreTime < b.Score.ScoreTime
}

func (f *fakeRunRepo) CountBySubmission(_ context.Context, submissionID int64) (int64, error) {
	runs, _ := f.ListBySubmission(nil, submissionID)
	return int64(len(runs)), nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) PutObject(_ context.Context, bucket, key string, reader storage.ObjectReader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = data
	return nil
}

func (f *fakeStorage) GetObject(_ context.Context, bucket, key string) (storage.ObjectReader, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, io.ErrUnexpectedEOF
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func newTestService() (*SubmissionService, *fakeSubmissionRepo, *fakeRunRepo, *fakeStorage) {
	subs := newFakeSubmissionRepo()
	runs := &fakeRunRepo{}
	blobs := newFakeStorage()
	svc := NewSubmissionService(subs, runs, blobs, "recordings", liveness.NewTracker(30*time.Minute), nil)
	return svc, subs, runs, blobs
}

func TestCreateOrFindDeduplicates(t *testing.T) {
	svc, _, _, blobs := newTestService()
	ctx := context.Background()

	first, created, err := svc.CreateOrFind(ctx, "level1_3.559.rec", []byte("recording-bytes"), nil)
	if err != nil {
		t.Fatalf("CreateOrFind() error = %v", err)
	}
	if !created {
		t.Fatal("first upload should create a submission")
	}
	if first.IsTAS {
		t.Error("name without tas marker should not flag TAS")
	}
	if first.ExpectedTime == nil || *first.ExpectedTime != 3559 {
		t.Errorf("ExpectedTime = %v, want 3559", first.ExpectedTime)
	}
	if len(blobs.objects) != 1 {
		t.Errorf("stored %d objects, want 1", len(blobs.objects))
	}

	// Same bytes under a different name hit the stored row untouched.
	second, created, err := svc.CreateOrFind(ctx, "renamed_tas_9.99.rec", []byte("recording-bytes"), nil)
	if err != nil {
		t.Fatalf("CreateOrFind() error = %v", err)
	}
	if created {
		t.Error("duplicate content should not create a submission")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate resolved to id %d, want %d", second.ID, first.ID)
	}
	if second.Name != "level1_3.559.rec" {
		t.Errorf("stored name changed to %q", second.Name)
	}
	if second.IsTAS {
		t.Error("duplicate upload must not rewrite heuristics")
	}
	if len(blobs.objects) != 1 {
		t.Errorf("duplicate upload stored %d objects, want 1", len(blobs.objects))
	}
}

func TestCreateOrFindRejectsEmpty(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, _, err := svc.CreateOrFind(context.Background(), "empty.rec", nil, nil)
	if !apperrors.Is(err, apperrors.RecordingEmpty) {
		t.Errorf("CreateOrFind(empty) error = %v, want RecordingEmpty", err)
	}
}

func TestCreateOrFindNamesUnnamed(t *testing.T) {
	svc, _, _, _ := newTestService()
	sub, _, err := svc.CreateOrFind(context.Background(), "", []byte("anonymous"), nil)
	if err != nil {
		t.Fatalf("CreateOrFind() error = %v", err)
	}
	if sub.Name == "" {
		t.Fatal("unnamed upload should be given a synthetic name")
	}
	if sub.Name[:8] != "Unnamed_" {
		t.Errorf("synthetic name = %q", sub.Name)
	}
}

func TestCreateOrFindOverrides(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	isTAS := true
	expected := int64(99999)
	sub, created, err := svc.CreateOrFind(ctx, "nameless_run.rec", []byte("override-me"), &GuessOverrides{
		IsTAS:        &isTAS,
		ExpectedTime: &expected,
	})
	if err != nil {
		t.Fatalf("CreateOrFind() error = %v", err)
	}
	if !created {
		t.Fatal("expected a new submission")
	}
	if !sub.IsTAS {
		t.Error("TAS override not applied")
	}
	if sub.ExpectedTime == nil || *sub.ExpectedTime != 99999 {
		t.Errorf("ExpectedTime = %v, want 99999", sub.ExpectedTime)
	}

	// Overrides on a duplicate upload are ignored.
	other := int64(11111)
	dup, created, err := svc.CreateOrFind(ctx, "nameless_run.rec", []byte("override-me"), &GuessOverrides{
		ExpectedTime: &other,
	})
	if err != nil {
		t.Fatalf("CreateOrFind() error = %v", err)
	}
	if created {
		t.Error("duplicate content should not create a submission")
	}
	if dup.ExpectedTime == nil || *dup.ExpectedTime != 99999 {
		t.Errorf("duplicate rewrote ExpectedTime to %v", dup.ExpectedTime)
	}
}

func TestBestRunPreference(t *testing.T) {
	svc, subs, _, _ := newTestService()
	ctx := context.Background()

	id, err := subs.Create(ctx, nil, &repository.Submission{
		Name: "r.rec", Hash: "h", ObjectKey: "k", UploadDate: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	best, err := svc.BestRun(ctx, id)
	if err != nil {
		t.Fatalf("BestRun() error = %v", err)
	}
	if best != nil {
		t.Fatal("submission without runs should have no best run")
	}

	errText := "playback crashed"
	if _, err := svc.ReportRun(ctx, "runner1", id, "windows", nil, &errText); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ReportRun(ctx, "runner1", id, "mac", &ScoreInput{Success: false}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ReportRun(ctx, "runner1", id, "windows", &ScoreInput{Success: true, ScoreTime: 4000}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ReportRun(ctx, "runner1", id, "wine", &ScoreInput{Success: true, ScoreTime: 3559}, nil); err != nil {
		t.Fatal(err)
	}

	best, err = svc.BestRun(ctx, id)
	if err != nil {
		t.Fatalf("BestRun() error = %v", err)
	}
	if best == nil || best.Score == nil {
		t.Fatal("best run should carry a score")
	}
	if !best.Score.Success || best.Score.ScoreTime != 3559 {
		t.Errorf("best run = success %v time %d, want successful 3559",
			best.Score.Success, best.Score.ScoreTime)
	}
}

func TestPendingPagination(t *testing.T) {
	svc, subs, _, _ := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := subs.Create(ctx, nil, &repository.Submission{
			Name:       "run.rec",
			Hash:       string(rune('a' + i)),
			ObjectKey:  "k",
			UploadDate: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page1, cursor, err := svc.Pending(ctx, "runner1", "windows", "", 2)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(page1) != 2 || page1[0].ID != 1 || page1[1].ID != 2 {
		t.Fatalf("page1 ids = %v", ids(page1))
	}
	if cursor == "" {
		t.Fatal("full page should produce a next cursor")
	}

	page2, cursor, err := svc.Pending(ctx, "runner1", "windows", cursor, 2)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(page2) != 2 || page2[0].ID != 3 || page2[1].ID != 4 {
		t.Fatalf("page2 ids = %v", ids(page2))
	}

	page3, cursor, err := svc.Pending(ctx, "runner1", "windows", cursor, 2)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(page3) != 1 || page3[0].ID != 5 {
		t.Fatalf("page3 ids = %v", ids(page3))
	}
	if cursor != "" {
		t.Errorf("short page should end pagination, got cursor %q", cursor)
	}
}

func TestPendingMarksRunnerLive(t *testing.T) {
	tracker := liveness.NewTracker(30 * time.Minute)
	svc := NewSubmissionService(newFakeSubmissionRepo(), &fakeRunRepo{}, newFakeStorage(), "recordings", tracker, nil)

	if _, _, err := svc.Pending(context.Background(), "runner1", "mac", "", 10); err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if !tracker.IsLive("runner1", time.Now()) {
		t.Error("polling runner should be marked live")
	}
}

func TestReportRunValidation(t *testing.T) {
	svc, subs, runRepo, _ := newTestService()
	ctx := context.Background()

	id, err := subs.Create(ctx, nil, &repository.Submission{
		Name: "r.rec", Hash: "h", ObjectKey: "k", UploadDate: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	errText := "playback crashed"
	score := &ScoreInput{Success: true, ScoreTime: 3559}

	if _, err := svc.ReportRun(ctx, "runner1", id, "windows", nil, nil); !apperrors.Is(err, apperrors.RunScoreConflict) {
		t.Errorf("neither score nor error: got %v, want RunScoreConflict", err)
	}
	if _, err := svc.ReportRun(ctx, "runner1", id, "windows", score, &errText); !apperrors.Is(err, apperrors.RunScoreConflict) {
		t.Errorf("both score and error: got %v, want RunScoreConflict", err)
	}
	if _, err := svc.ReportRun(ctx, "runner1", id, "", score, nil); !apperrors.Is(err, apperrors.InvalidOSLabel) {
		t.Errorf("empty os: got %v, want InvalidOSLabel", err)
	}
	if _, err := svc.ReportRun(ctx, "runner1", id+100, "windows", score, nil); !apperrors.Is(err, apperrors.SubmissionNotFound) {
		t.Errorf("unknown submission: got %v, want SubmissionNotFound", err)
	}

	if _, err := svc.ReportRun(ctx, "runner1", id, "windows", score, nil); err != nil {
		t.Fatalf("valid score report error = %v", err)
	}
	if _, err := svc.ReportRun(ctx, "runner1", id, "windows", nil, &errText); err != nil {
		t.Fatalf("valid error report error = %v", err)
	}
	if len(runRepo.runs) != 2 {
		t.Errorf("recorded %d runs, want 2", len(runRepo.runs))
	}
}

func TestGetUsesReadCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("NewRedisCacheWithClient() error = %v", err)
	}

	subs := newFakeSubmissionRepo()
	svc := NewSubmissionService(subs, &fakeRunRepo{}, newFakeStorage(), "recordings",
		liveness.NewTracker(30*time.Minute), redisCache)
	ctx := context.Background()

	id, err := subs.Create(ctx, nil, &repository.Submission{
		Name: "cached.rec", Hash: "h", ObjectKey: "k", UploadDate: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Get(ctx, id); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// The row is gone but the cache still serves it.
	delete(subs.byID, id)
	sub, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("cached Get() error = %v", err)
	}
	if sub.Name != "cached.rec" {
		t.Errorf("cached Name = %q", sub.Name)
	}

	// Unknown ids cache their absence.
	if _, err := svc.Get(ctx, id+100); !apperrors.Is(err, apperrors.SubmissionNotFound) {
		t.Fatalf("unknown id: got %v, want SubmissionNotFound", err)
	}
	if _, err := svc.Get(ctx, id+100); !apperrors.Is(err, apperrors.SubmissionNotFound) {
		t.Errorf("cached unknown id: got %v, want SubmissionNotFound", err)
	}
}

func TestBackfillGuesses(t *testing.T) {
	svc, subs, _, _ := newTestService()
	ctx := context.Background()

	// Row stored before the heuristics existed.
	id, err := subs.Create(ctx, nil, &repository.Submission{
		Name: "old_tas_12.34.rec", Hash: "h1", ObjectKey: "k", UploadDate: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.BackfillGuesses(ctx); err != nil {
		t.Fatalf("BackfillGuesses() error = %v", err)
	}

	sub, err := subs.GetByID(ctx, nil, id)
	if err != nil {
		t.Fatal(err)
	}
	if !sub.IsTAS {
		t.Error("backfill should flag TAS from the stored name")
	}
	if sub.ExpectedTime == nil || *sub.ExpectedTime != 12349 {
		t.Errorf("ExpectedTime = %v, want 12349", sub.ExpectedTime)
	}

	// Second call is a no-op.
	if err := svc.BackfillGuesses(ctx); err != nil {
		t.Fatalf("repeat BackfillGuesses() error = %v", err)
	}
}

func TestBackfillKeepsStoredExpectedTime(t *testing.T) {
	svc, subs, runs, blobs := newTestService()
	ctx := context.Background()

	// Operator pinned the expected time on a name that also parses.
	expected := int64(5000)
	sub, _, err := svc.CreateOrFind(ctx, "level_3.559.rec", []byte("pinned"), &GuessOverrides{
		ExpectedTime: &expected,
	})
	if err != nil {
		t.Fatalf("CreateOrFind() error = %v", err)
	}

	// A process restart backfills over the same rows.
	restarted := NewSubmissionService(subs, runs, blobs, "recordings", liveness.NewTracker(30*time.Minute), nil)
	if err := restarted.BackfillGuesses(ctx); err != nil {
		t.Fatalf("BackfillGuesses() error = %v", err)
	}

	stored, err := subs.GetByID(ctx, nil, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ExpectedTime == nil || *stored.ExpectedTime != 5000 {
		t.Errorf("ExpectedTime = %v, want the pinned 5000", stored.ExpectedTime)
	}
}

func ids(subs []*repository.Submission) []int64 {
	out := make([]int64, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.ID)
	}
	return out
}
