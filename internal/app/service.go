// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/trellis/internal/adapters/repository"
	"github.com/okian/trellis/internal/batch"
	"github.com/okian/trellis/internal/domain/dedupe"
	"github.com/okian/trellis/internal/domain/model"
	"github.com/okian/trellis/internal/domain/profile"
	"github.com/okian/trellis/internal/importer"
	"github.com/okian/trellis/internal/refclock"
	"github.com/okian/trellis/pkg/logger"
)

// Service wires the store, reference clock, importer and profile
// generation behind the operations the HTTP API exposes.
type Service struct {
	mu sync.Mutex

	// Core components
	store        *repository.Store
	clock        *refclock.Clock
	deduper      dedupe.Deduper
	aggregator   *profile.Aggregator
	importJob    *importer.Job
	importRunner *batch.Runner
	genRunner    *batch.Runner

	// Configuration
	dbPath           string
	uploadDir        string
	importBatchSize  int
	profileBatchSize int
	tickDelay        time.Duration
	dedupeSize       int
	activeDays       int
	warningDays      int
	ignoredTypes     []string
	eventTypes       map[string]string
	ladders          []model.Ladder
	profilesHook     func(ctx context.Context)

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDBPath sets the SQLite database location.
func WithDBPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.dbPath = path
		}
	}
}

// WithUploadDir sets the directory that receives uploaded CSV files.
func WithUploadDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.uploadDir = dir
		}
	}
}

// WithImportBatchSize bounds CSV lines handled per import tick.
func WithImportBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.importBatchSize = n
		}
	}
}

// WithProfileBatchSize bounds contributors handled per generation tick.
func WithProfileBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.profileBatchSize = n
		}
	}
}

// WithTickDelay sets the pause between batch ticks.
func WithTickDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tickDelay = d
		}
	}
}

// WithDedupeSize sets the size of the import deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStatusThresholds sets the active/warning day thresholds.
func WithStatusThresholds(activeDays, warningDays int) Option {
	return func(s *Service) {
		if activeDays > 0 && warningDays >= activeDays {
			s.activeDays = activeDays
			s.warningDays = warningDays
		}
	}
}

// WithIgnoredEventTypes sets the event types excluded from profiles.
func WithIgnoredEventTypes(types []string) Option {
	return func(s *Service) {
		s.ignoredTypes = types
	}
}

// WithEventTypes seeds the event-type registry at startup.
func WithEventTypes(types map[string]string) Option {
	return func(s *Service) {
		s.eventTypes = types
	}
}

// WithLadders sets the ordered ladder configuration.
func WithLadders(ladders []model.Ladder) Option {
	return func(s *Service) {
		s.ladders = ladders
	}
}

// WithProfilesGeneratedHook registers a callback fired once each time a
// profile generation job completes.
func WithProfilesGeneratedHook(fn func(ctx context.Context)) Option {
	return func(s *Service) {
		s.profilesHook = fn
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbPath:           "trellis.db",
		uploadDir:        "uploads",
		importBatchSize:  importer.DefaultBatchSize,
		profileBatchSize: profile.DefaultGenerationBatchSize,
		tickDelay:        time.Second,
		dedupeSize:       100_000,
		activeDays:       profile.DefaultActiveDays,
		warningDays:      profile.DefaultWarningDays,
		ignoredTypes:     []string{"updated_profile"},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start opens the store and wires the components. Jobs left processing
// by a previous run are resumed.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting contributor ladder service...")

	store, err := repository.Open(s.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store

	if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		_ = store.Close()
		return fmt.Errorf("create upload dir: %w", err)
	}

	if err := store.RegisterEventTypes(ctx, s.eventTypes); err != nil {
		_ = store.Close()
		return fmt.Errorf("seed event types: %w", err)
	}

	s.clock = refclock.New(store, store)
	s.deduper = dedupe.New(dedupe.WithMaxSize(s.dedupeSize))
	s.aggregator = profile.NewAggregator(store, store, s.clock,
		profile.WithLadders(s.ladders),
		profile.WithIgnoredTypes(s.ignoredTypes),
		profile.WithStatusThresholds(s.activeDays, s.warningDays),
	)

	s.importJob = importer.NewJob(store, s.clock,
		importer.WithBatchSize(s.importBatchSize),
		importer.WithDeduper(s.deduper),
	)
	s.importRunner = batch.NewRunner(s.importJob, store,
		batch.WithTickDelay(s.tickDelay),
	)

	genJob := profile.NewGenerationJob(store, s.aggregator, s.clock,
		profile.WithGenerationBatchSize(s.profileBatchSize),
		profile.WithGenerationIgnoredTypes(s.ignoredTypes),
	)
	genOpts := []batch.Option{batch.WithTickDelay(s.tickDelay)}
	if s.profilesHook != nil {
		genOpts = append(genOpts, batch.WithCompletionHook(s.profilesHook))
	}
	s.genRunner = batch.NewRunner(genJob, store, genOpts...)

	s.resumeJobs(ctx)

	s.started = true
	s.logger.Info(ctx, "contributor ladder service started",
		logger.String("db", s.dbPath),
		logger.Int("importBatchSize", s.importBatchSize),
		logger.Int("profileBatchSize", s.profileBatchSize),
	)

	return nil
}

// resumeJobs re-arms any job a previous process left in processing.
func (s *Service) resumeJobs(ctx context.Context) {
	if st, ok, err := s.importRunner.Status(ctx); err != nil {
		s.logger.Warn(ctx, "loading import job state", logger.Error(err))
	} else if ok && st.Status == batch.StatusProcessing {
		s.importJob.RestoreFromState(st)
		if err := s.importRunner.Resume(ctx); err != nil {
			s.logger.Warn(ctx, "resuming import job", logger.Error(err))
		}
	}

	if err := s.genRunner.Resume(ctx); err != nil {
		s.logger.Warn(ctx, "resuming generation job", logger.Error(err))
	}
}

// Stop gracefully shuts down the service. Processing jobs keep their
// state and resume on the next Start.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping contributor ladder service...")

	if s.importRunner != nil {
		s.importRunner.Stop()
	}
	if s.genRunner != nil {
		s.genRunner.Stop()
	}
	if s.store != nil {
		_ = s.store.Close()
	}

	s.started = false
	s.logger.Info(ctx, "contributor ladder service stopped")
}

// SaveUpload stores an uploaded CSV stream in the upload directory and
// returns its path.
func (s *Service) SaveUpload(ctx context.Context, r io.Reader) (string, error) {
	path := filepath.Join(s.uploadDir, uuid.New().String()+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("store upload: %w", err)
	}
	return path, nil
}

// StartImport begins importing the stored CSV at path. An import already
// processing is cancelled and replaced; its partial rows stand.
func (s *Service) StartImport(ctx context.Context, path string) (batch.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok, err := s.importRunner.Status(ctx); err != nil {
		return batch.State{}, err
	} else if ok && st.Status == batch.StatusProcessing {
		if err := s.importRunner.Cancel(ctx); err != nil {
			return batch.State{}, err
		}
	}

	s.importJob.SetSourceFile(path)
	return s.importRunner.Start(ctx)
}

// CancelImport stops a processing import and discards its source file.
func (s *Service) CancelImport(ctx context.Context) error {
	st, ok, err := s.importRunner.Status(ctx)
	if err != nil {
		return err
	}
	if !ok || st.Status != batch.StatusProcessing {
		return batch.ErrNoJob
	}
	return s.importRunner.Cancel(ctx)
}

// ImportStatus reports the current import job state.
func (s *Service) ImportStatus(ctx context.Context) (batch.State, error) {
	st, ok, err := s.importRunner.Status(ctx)
	if err != nil {
		return batch.State{}, err
	}
	if !ok {
		return batch.State{}, batch.ErrNoJob
	}
	return st, nil
}

// StartGeneration begins a full profile (re)generation run.
func (s *Service) StartGeneration(ctx context.Context) (batch.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok, err := s.genRunner.Status(ctx); err != nil {
		return batch.State{}, err
	} else if ok && st.Status == batch.StatusProcessing {
		if err := s.genRunner.Cancel(ctx); err != nil {
			return batch.State{}, err
		}
	}

	return s.genRunner.Start(ctx)
}

// CancelGeneration stops a processing generation run.
func (s *Service) CancelGeneration(ctx context.Context) error {
	st, ok, err := s.genRunner.Status(ctx)
	if err != nil {
		return err
	}
	if !ok || st.Status != batch.StatusProcessing {
		return batch.ErrNoJob
	}
	return s.genRunner.Cancel(ctx)
}

// GenerationStatus reports the current profile generation job state.
func (s *Service) GenerationStatus(ctx context.Context) (batch.State, error) {
	st, ok, err := s.genRunner.Status(ctx)
	if err != nil {
		return batch.State{}, err
	}
	if !ok {
		return batch.State{}, batch.ErrNoJob
	}
	return st, nil
}

// Profile returns the stored profile for a contributor.
func (s *Service) Profile(ctx context.Context, contributorID string) (model.Profile, error) {
	return s.store.Profile(ctx, contributorID)
}

// Stats returns the monitoring rollup.
func (s *Service) Stats(ctx context.Context) (model.ProfileStats, error) {
	return s.store.ProfileStats(ctx)
}

// EventTypes returns the catalogue of event types seen by imports,
// keyed by type name with display labels as values.
func (s *Service) EventTypes(ctx context.Context) (map[string]string, error) {
	return s.store.EventTypes(ctx)
}

// ClearEvents removes every stored event and resets the dedupe cache so
// the same ids can be imported again. Profiles are untouched.
func (s *Service) ClearEvents(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.store.TruncateEvents(ctx)
	if err != nil {
		return 0, err
	}
	s.deduper = dedupe.New(dedupe.WithMaxSize(s.dedupeSize))
	s.importJob = importer.NewJob(s.store, s.clock,
		importer.WithBatchSize(s.importBatchSize),
		importer.WithDeduper(s.deduper),
	)
	s.importRunner.Stop()
	s.importRunner = batch.NewRunner(s.importJob, s.store,
		batch.WithTickDelay(s.tickDelay),
	)

	s.logger.Info(ctx, "cleared all events", logger.Int64("removed", removed))
	return removed, nil
}
