package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"roadwatch/internal/config"
	"roadwatch/internal/features/analyzer"

	"github.com/gabriel-vasile/mimetype"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AggregateNotifier is told after every successful mutation so the
// dashboard feed can recompute. Implemented by dashboard.Feed.
type AggregateNotifier interface {
	Invalidate()
}

type IngestionService interface {
	Submit(ctx context.Context, draft *Report, image []byte, filename string) (*Report, error)
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, filter Filter) ([]Report, error)
	UpdateStatus(ctx context.Context, id string, next Status) (*Report, error)
	Reanalyze(ctx context.Context, id string) (*Report, error)
	Export(ctx context.Context, filter Filter, format string) ([]byte, string, error)
}

type IngestionServiceImpl struct {
	Repo     ReportRepository
	Analyzer analyzer.Client
	Feed     AggregateNotifier
	Logger   *zap.Logger
	Config   *config.Config
}

func NewIngestionService(repo ReportRepository, client analyzer.Client, feed AggregateNotifier, logger *zap.Logger, cfg *config.Config) IngestionService {
	if _, err := os.Stat(cfg.UploadDir); os.IsNotExist(err) {
		os.MkdirAll(cfg.UploadDir, 0755)
	}
	return &IngestionServiceImpl{
		Repo:     repo,
		Analyzer: client,
		Feed:     feed,
		Logger:   logger,
		Config:   cfg,
	}
}

// Submit runs the ingestion pipeline: validate, analyze, persist. The
// analysis call is best effort; only validation and persistence failures
// reach the caller.
func (s *IngestionServiceImpl) Submit(ctx context.Context, draft *Report, image []byte, filename string) (*Report, error) {
	if err := s.validateImage(image); err != nil {
		return nil, err
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	if draft.ID == "" {
		draft.ID = uuid.NewString()
	} else {
		// Early duplicate check so most retries fail before the analyzer
		// round trip. The unique index still decides races at insert time.
		if _, err := s.Repo.Get(ctx, draft.ID); err == nil {
			return nil, ErrDuplicateID
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	draft.AIResult = s.analyze(ctx, draft.ID, image, filename)
	draft.Status = StatusPending
	draft.CreatedAt = time.Now().UTC()
	draft.ImagePath = s.saveImage(draft.ID, image, filename)

	// The write keeps going even if the client hangs up: a dropped
	// connection must not orphan a half-committed submission.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.Repo.Create(storeCtx, draft); err != nil {
		return nil, err
	}

	s.Logger.Info("report created",
		zap.String("report_id", draft.ID),
		zap.String("severity", string(draft.Severity)),
		zap.Bool("analyzed", draft.AIResult != nil))
	s.Feed.Invalidate()
	return draft, nil
}

func (s *IngestionServiceImpl) validateImage(image []byte) error {
	if len(image) == 0 {
		return invalidField("image", "is required")
	}
	if int64(len(image)) > s.Config.MaxImageBytes {
		return ErrPayloadTooLarge
	}
	if !strings.HasPrefix(mimetype.Detect(image).String(), "image/") {
		return ErrInvalidImage
	}
	return nil
}

func validateDraft(draft *Report) error {
	if strings.TrimSpace(draft.Type) == "" {
		return invalidField("type", "is required")
	}
	if draft.Severity == "" {
		return invalidField("severity", "is required")
	}
	if !draft.Severity.Valid() {
		return invalidField("severity", "must be one of Low, Medium, High, Critical")
	}
	if strings.TrimSpace(draft.Location) == "" {
		return invalidField("location", "is required")
	}
	if draft.Coords != nil {
		if len(draft.Coords) != 2 {
			return invalidField("coords", "must be a [lat, lng] pair")
		}
		for _, v := range draft.Coords {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return invalidField("coords", "must be finite numbers")
			}
		}
	}
	return nil
}

// analyze relays the image and absorbs every failure: a flaky analyzer
// must never cost us the submission. Returns nil when analysis was skipped.
func (s *IngestionServiceImpl) analyze(ctx context.Context, reportID string, image []byte, filename string) map[string]any {
	result, err := s.Analyzer.Analyze(ctx, image, filename)
	if err != nil && s.Config.AnalyzerRetry {
		result, err = s.Analyzer.Analyze(ctx, image, filename)
	}
	if err != nil {
		s.Logger.Warn("analysis unavailable, storing report unanalyzed",
			zap.String("report_id", reportID),
			zap.Error(err))
		sentry.CaptureMessage(fmt.Sprintf("analysis unavailable for report %s: %v", reportID, err))
		return nil
	}
	return result
}

// saveImage keeps the original upload on disk so the report can be
// re-analyzed later. Returns "" when saving fails; that only disables
// re-analysis, it does not fail the submission.
func (s *IngestionServiceImpl) saveImage(reportID string, image []byte, filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	dstPath := filepath.Join(s.Config.UploadDir, reportID+ext)
	if err := os.WriteFile(dstPath, image, 0644); err != nil {
		s.Logger.Warn("could not persist submitted image",
			zap.String("report_id", reportID),
			zap.Error(err))
		return ""
	}
	return dstPath
}

func (s *IngestionServiceImpl) Get(ctx context.Context, id string) (*Report, error) {
	return s.Repo.Get(ctx, id)
}

func (s *IngestionServiceImpl) List(ctx context.Context, filter Filter) ([]Report, error) {
	return s.Repo.List(ctx, filter)
}

func (s *IngestionServiceImpl) UpdateStatus(ctx context.Context, id string, next Status) (*Report, error) {
	updated, err := s.Repo.UpdateStatus(ctx, id, next)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("report status updated",
		zap.String("report_id", id),
		zap.String("status", string(next)))
	s.Feed.Invalidate()
	return updated, nil
}

// Reanalyze retries the relay for a report stored without an analysis
// result, using the image kept at submission time. Unlike the submit
// path, an unavailable analyzer is surfaced here: the caller asked for
// this call explicitly.
func (s *IngestionServiceImpl) Reanalyze(ctx context.Context, id string) (*Report, error) {
	stored, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored.AIResult != nil {
		return nil, ErrAlreadyAnalyzed
	}
	if stored.ImagePath == "" {
		return nil, invalidField("image", "original image is no longer available")
	}

	image, err := os.ReadFile(stored.ImagePath)
	if err != nil {
		return nil, invalidField("image", "original image is no longer available")
	}

	result, err := s.Analyzer.Analyze(ctx, image, filepath.Base(stored.ImagePath))
	if err != nil {
		return nil, err
	}

	updated, err := s.Repo.SetAIResult(ctx, id, result)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("report re-analyzed", zap.String("report_id", id))
	s.Feed.Invalidate()
	return updated, nil
}
