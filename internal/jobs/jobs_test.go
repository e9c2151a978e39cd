package jobs

import (
	"io"
	"testing"
	"time"

	"carto/internal/logging"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(t.TempDir(), logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	}))
	if err != nil {
		t.Fatalf("OpenStore() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newJob(id string, status Status) *Job {
	return &Job{
		ID:          id,
		RemoteID:    "remote-" + id,
		Status:      status,
		TotalChunks: 100,
		BatchSize:   16,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	store := testStore(t)

	want := newJob("job-1", StatusQueued)
	if err := store.CreateJob(want); err != nil {
		t.Fatalf("CreateJob() error: %v", err)
	}

	got, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetJob() returned nil for existing job")
	}
	if got.RemoteID != "remote-job-1" || got.Status != StatusQueued || got.TotalChunks != 100 {
		t.Errorf("GetJob() = %+v", got)
	}
}

func TestGetJobMissing(t *testing.T) {
	store := testStore(t)

	got, err := store.GetJob("nope")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetJob(missing) = %+v, want nil", got)
	}
}

func TestUpdateJob(t *testing.T) {
	store := testStore(t)

	job := newJob("job-1", StatusRunning)
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	job.Status = StatusCompleted
	job.ProcessedChunks = 100
	now := time.Now().UTC().Truncate(time.Second)
	job.CompletedAt = &now

	if err := store.UpdateJob(job); err != nil {
		t.Fatalf("UpdateJob() error: %v", err)
	}

	got, _ := store.GetJob("job-1")
	if got.Status != StatusCompleted || got.ProcessedChunks != 100 {
		t.Errorf("after update: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, now)
	}
}

func TestUpdateJobMissing(t *testing.T) {
	store := testStore(t)

	if err := store.UpdateJob(newJob("ghost", StatusFailed)); err == nil {
		t.Error("UpdateJob() on missing job should fail")
	}
}

func TestListJobsFilterAndOrder(t *testing.T) {
	store := testStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []Status{StatusCompleted, StatusFailed, StatusCompleted} {
		job := newJob(string(rune('a'+i)), status)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateJob(job); err != nil {
			t.Fatal(err)
		}
	}

	list, total, err := store.ListJobs(ListOptions{Status: []Status{StatusCompleted}})
	if err != nil {
		t.Fatalf("ListJobs() error: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("ListJobs() = %d jobs (total %d), want 2", len(list), total)
	}
	// Newest first.
	if list[0].ID != "c" || list[1].ID != "a" {
		t.Errorf("order = [%s %s], want [c a]", list[0].ID, list[1].ID)
	}
}

func TestGetActiveJob(t *testing.T) {
	store := testStore(t)

	if job, err := store.GetActiveJob(); err != nil || job != nil {
		t.Fatalf("GetActiveJob() on empty store = (%v, %v)", job, err)
	}

	done := newJob("done", StatusCompleted)
	if err := store.CreateJob(done); err != nil {
		t.Fatal(err)
	}
	active := newJob("active", StatusRunning)
	active.CreatedAt = done.CreatedAt.Add(time.Minute)
	if err := store.CreateJob(active); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetActiveJob()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "active" {
		t.Errorf("GetActiveJob() = %+v, want active", got)
	}
}

func TestCleanupOldJobs(t *testing.T) {
	store := testStore(t)

	old := newJob("old", StatusCompleted)
	oldDone := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &oldDone
	if err := store.CreateJob(old); err != nil {
		t.Fatal(err)
	}

	fresh := newJob("fresh", StatusCompleted)
	freshDone := time.Now().UTC()
	fresh.CompletedAt = &freshDone
	if err := store.CreateJob(fresh); err != nil {
		t.Fatal(err)
	}

	running := newJob("running", StatusRunning)
	if err := store.CreateJob(running); err != nil {
		t.Fatal(err)
	}

	removed, err := store.CleanupOldJobs(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldJobs() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d jobs, want 1", removed)
	}

	if got, _ := store.GetJob("old"); got != nil {
		t.Error("old job survived cleanup")
	}
	if got, _ := store.GetJob("fresh"); got == nil {
		t.Error("fresh job removed by cleanup")
	}
	if got, _ := store.GetJob("running"); got == nil {
		t.Error("running job removed by cleanup")
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			j := &Job{Status: tt.status}
			if got := j.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileHashes(t *testing.T) {
	store := testStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.SaveFileHash(&FileHash{Path: "a.go", Hash: "h1", LastIndexed: now}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveFileHash(&FileHash{Path: "b.go", Hash: "h2", LastIndexed: now}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetFileHash("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Hash != "h1" {
		t.Errorf("GetFileHash(a.go) = %+v", got)
	}

	// Upsert replaces.
	if err := store.SaveFileHash(&FileHash{Path: "a.go", Hash: "h1b", LastIndexed: now}); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetFileHash("a.go")
	if got.Hash != "h1b" {
		t.Errorf("hash after upsert = %q, want h1b", got.Hash)
	}

	all, err := store.GetAllHashes()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["b.go"] != "h2" {
		t.Errorf("GetAllHashes() = %v", all)
	}

	if err := store.DeleteFileHash("b.go"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetFileHash("b.go"); got != nil {
		t.Error("b.go survived DeleteFileHash")
	}

	if err := store.ClearHashes(); err != nil {
		t.Fatal(err)
	}
	if all, _ := store.GetAllHashes(); len(all) != 0 {
		t.Errorf("GetAllHashes() after clear = %v", all)
	}
}

func TestOpenStoreReopens(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel, Output: io.Discard})

	store, err := OpenStore(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateJob(newJob("persisted", StatusCompleted)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store2, err := OpenStore(dir, logger)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer func() { _ = store2.Close() }()

	got, err := store2.GetJob("persisted")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("job lost across reopen")
	}
}
