package report

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"roadwatch/internal/config"
	"roadwatch/internal/features/analyzer"

	"go.uber.org/zap"
)

// jpegHeader is enough for content sniffing to recognize image/jpeg.
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

// MockReportRepo mirrors the store contract in memory: unique id on
// create, compare-and-set on status updates.
type MockReportRepo struct {
	mu      sync.Mutex
	reports map[string]*Report

	failCreate bool
}

func NewMockReportRepo() *MockReportRepo {
	return &MockReportRepo{reports: make(map[string]*Report)}
}

func (m *MockReportRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MockReportRepo) Create(ctx context.Context, report *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return ErrStoreUnavailable
	}
	if _, exists := m.reports[report.ID]; exists {
		return ErrDuplicateID
	}
	clone := *report
	m.reports[report.ID] = &clone
	return nil
}

func (m *MockReportRepo) Get(ctx context.Context, id string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *stored
	return &clone, nil
}

func (m *MockReportRepo) UpdateStatus(ctx context.Context, id string, next Status) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !stored.Status.CanTransitionTo(next) || stored.AIResult == nil {
		return nil, ErrInvalidTransition
	}
	stored.Status = next
	clone := *stored
	return &clone, nil
}

func (m *MockReportRepo) SetAIResult(ctx context.Context, id string, result map[string]any) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	stored.AIResult = result
	clone := *stored
	return &clone, nil
}

func (m *MockReportRepo) List(ctx context.Context, filter Filter) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Report
	for _, r := range m.reports {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && r.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *MockReportRepo) CountSummary(ctx context.Context) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &Summary{
		ByStatus:   make(map[Status]int64),
		BySeverity: make(map[Severity]int64),
	}
	for _, r := range m.reports {
		summary.Total++
		summary.ByStatus[r.Status]++
		summary.BySeverity[r.Severity]++
	}
	return summary, nil
}

type MockAnalyzer struct {
	result analyzer.Result
	err    error
	calls  int32
}

func (m *MockAnalyzer) Analyze(ctx context.Context, image []byte, filename string) (analyzer.Result, error) {
	atomic.AddInt32(&m.calls, 1)
	return m.result, m.err
}

type MockFeed struct {
	invalidations int32
}

func (m *MockFeed) Invalidate() { atomic.AddInt32(&m.invalidations, 1) }

func newTestService(t *testing.T, repo ReportRepository, client analyzer.Client) (IngestionService, *MockFeed, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		MaxImageBytes: 1 << 20,
		UploadDir:     t.TempDir(),
	}
	feed := &MockFeed{}
	return NewIngestionService(repo, client, feed, zap.NewNop(), cfg), feed, cfg
}

func validDraft() *Report {
	return &Report{
		ID:           "r1",
		Type:         "Pothole",
		Severity:     SeverityCritical,
		Location:     "Main St",
		Coords:       []float64{12.9, 77.6},
		ReportedDate: "2024-01-01",
		SubmittedBy:  "citizen-7",
	}
}

func TestSubmitSuccess(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{result: analyzer.Result{"success": true, "detections": []any{}}}
	svc, feed, _ := newTestService(t, repo, client)

	created, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if created.Status != StatusPending {
		t.Errorf("Status = %s, want %s", created.Status, StatusPending)
	}
	if created.AIResult == nil {
		t.Error("AIResult should be set when the analyzer succeeded")
	}
	if created.CreatedAt.IsZero() {
		t.Error("CreatedAt should be assigned by the gateway")
	}
	if feed.invalidations != 1 {
		t.Errorf("feed invalidations = %d, want 1", feed.invalidations)
	}

	stored, err := repo.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if stored.Status != StatusPending {
		t.Errorf("persisted Status = %s, want %s", stored.Status, StatusPending)
	}
}

func TestSubmitAnalysisUnavailable(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{err: analyzer.ErrUnavailable}
	svc, _, _ := newTestService(t, repo, client)

	created, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg")
	if err != nil {
		t.Fatalf("a flaky analyzer must not fail the submission, got %v", err)
	}
	if created.AIResult != nil {
		t.Error("AIResult should be unset when analysis failed")
	}
	if created.Status != StatusPending {
		t.Errorf("Status = %s, want %s", created.Status, StatusPending)
	}
}

func TestSubmitAnalyzerRetry(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{err: analyzer.ErrUnavailable}
	cfg := &config.Config{
		MaxImageBytes: 1 << 20,
		UploadDir:     t.TempDir(),
		AnalyzerRetry: true,
	}
	svc := NewIngestionService(repo, client, &MockFeed{}, zap.NewNop(), cfg)

	if _, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if calls := atomic.LoadInt32(&client.calls); calls != 2 {
		t.Errorf("analyzer calls = %d, want exactly one retry (2 calls)", calls)
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{result: analyzer.Result{"success": true}}
	svc, _, _ := newTestService(t, repo, client)

	if _, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg"); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	_, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg")
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("second Submit() error = %v, want ErrDuplicateID", err)
	}
}

func TestSubmitConcurrentSameID(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{result: analyzer.Result{"success": true}}
	svc, _, _ := newTestService(t, repo, client)

	const racers = 8
	var wg sync.WaitGroup
	var successes, duplicates int32

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg")
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrDuplicateID):
				atomic.AddInt32(&duplicates, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if duplicates != racers-1 {
		t.Errorf("duplicates = %d, want %d", duplicates, racers-1)
	}
}

func TestSubmitGeneratesID(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{result: analyzer.Result{"success": true}}
	svc, _, _ := newTestService(t, repo, client)

	draft := validDraft()
	draft.ID = ""
	created, err := svc.Submit(context.Background(), draft, jpegHeader, "pothole.jpg")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if created.ID == "" {
		t.Error("blank id should be server-generated")
	}
}

func TestSubmitValidation(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{result: analyzer.Result{"success": true}}
	svc, _, cfg := newTestService(t, repo, client)

	oversized := make([]byte, cfg.MaxImageBytes+1)
	copy(oversized, jpegHeader)

	tests := []struct {
		name    string
		mutate  func(*Report)
		image   []byte
		wantErr error
	}{
		{"missing type", func(r *Report) { r.Type = " " }, jpegHeader, nil},
		{"missing severity", func(r *Report) { r.Severity = "" }, jpegHeader, nil},
		{"unknown severity", func(r *Report) { r.Severity = "Severe" }, jpegHeader, nil},
		{"missing location", func(r *Report) { r.Location = "" }, jpegHeader, nil},
		{"one coordinate", func(r *Report) { r.Coords = []float64{12.9} }, jpegHeader, nil},
		{"non-finite coordinate", func(r *Report) { r.Coords = []float64{math.NaN(), 77.6} }, jpegHeader, nil},
		{"empty image", func(r *Report) {}, nil, nil},
		{"oversized image", func(r *Report) {}, oversized, ErrPayloadTooLarge},
		{"not an image", func(r *Report) {}, []byte("plain text, not pixels"), ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.mutate(draft)
			_, err := svc.Submit(context.Background(), draft, tt.image, "pothole.jpg")
			if err == nil {
				t.Fatal("Submit() should have been rejected")
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("error = %v, want *ValidationError", err)
			}
			if atomic.LoadInt32(&client.calls) != 0 {
				t.Error("validation failures must reject before any analyzer I/O")
			}
		})
	}
}

func TestSubmitStoreUnavailable(t *testing.T) {
	repo := NewMockReportRepo()
	repo.failCreate = true
	client := &MockAnalyzer{result: analyzer.Result{"success": true}}
	svc, _, _ := newTestService(t, repo, client)

	_, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
	if _, getErr := repo.Get(context.Background(), "r1"); !errors.Is(getErr, ErrNotFound) {
		t.Error("no partial record may exist after a failed persist")
	}
}

func TestSubmitCancelledRequestStillPersists(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{result: analyzer.Result{"success": true}}
	svc, _, _ := newTestService(t, repo, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // connection dropped before the write

	created, err := svc.Submit(ctx, validDraft(), jpegHeader, "pothole.jpg")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := repo.Get(context.Background(), created.ID); err != nil {
		t.Errorf("report must be persisted despite cancellation: %v", err)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{result: analyzer.Result{"success": true}}
	svc, feed, _ := newTestService(t, repo, client)

	if _, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Skipping InProgress is illegal.
	if _, err := svc.UpdateStatus(context.Background(), "r1", StatusResolved); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pending -> Resolved error = %v, want ErrInvalidTransition", err)
	}

	updated, err := svc.UpdateStatus(context.Background(), "r1", StatusInProgress)
	if err != nil {
		t.Fatalf("Pending -> InProgress error = %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Errorf("Status = %s, want %s", updated.Status, StatusInProgress)
	}

	if _, err := svc.UpdateStatus(context.Background(), "r1", StatusResolved); err != nil {
		t.Fatalf("InProgress -> Resolved error = %v", err)
	}

	// Terminal states stay terminal.
	for _, next := range AllStatuses {
		if _, err := svc.UpdateStatus(context.Background(), "r1", next); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Resolved -> %s error = %v, want ErrInvalidTransition", next, err)
		}
	}

	if _, err := svc.UpdateStatus(context.Background(), "missing", StatusInProgress); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}

	if feed.invalidations != 3 { // one create, two successful transitions
		t.Errorf("feed invalidations = %d, want 3", feed.invalidations)
	}
}

func TestUpdateStatusRequiresAnalysis(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{err: analyzer.ErrUnavailable}
	svc, _, _ := newTestService(t, repo, client)

	if _, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// No analysis result yet: triage cannot start.
	if _, err := svc.UpdateStatus(context.Background(), "r1", StatusInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition for unanalyzed report", err)
	}
}

func TestReanalyze(t *testing.T) {
	repo := NewMockReportRepo()
	client := &MockAnalyzer{err: analyzer.ErrUnavailable}
	svc, _, cfg := newTestService(t, repo, client)

	if _, err := svc.Submit(context.Background(), validDraft(), jpegHeader, "pothole.jpg"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Analyzer still down: surfaced to the explicit caller.
	if _, err := svc.Reanalyze(context.Background(), "r1"); !errors.Is(err, analyzer.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}

	// Analyzer back up.
	client.err = nil
	client.result = analyzer.Result{"success": true, "detections": []any{}}

	updated, err := svc.Reanalyze(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Reanalyze() error = %v", err)
	}
	if updated.AIResult == nil {
		t.Error("AIResult should be set after re-analysis")
	}
	if updated.Status != StatusPending {
		t.Errorf("re-analysis must not touch status, got %s", updated.Status)
	}

	if _, err := svc.Reanalyze(context.Background(), "r1"); !errors.Is(err, ErrAlreadyAnalyzed) {
		t.Errorf("error = %v, want ErrAlreadyAnalyzed", err)
	}

	// Image file is kept next to the upload dir for exactly this path.
	if _, err := os.Stat(filepath.Join(cfg.UploadDir, "r1.jpg")); err != nil {
		t.Errorf("submitted image should be kept on disk: %v", err)
	}
}
