package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ippclub/dora-registry/internal/config"
	"go.uber.org/zap"
)

// SyncService re-ingests the configured repositories so their newest
// revisions show up without anyone registering them.
type SyncService struct {
	registry *Registry
	repos    []config.Repo
	logger   *zap.Logger

	running  sync.Mutex // one run at a time
	mu       sync.Mutex
	lastSync time.Time
}

// NewSyncService creates a new SyncService instance
func NewSyncService(registry *Registry, repos []config.Repo, logger *zap.Logger) *SyncService {
	return &SyncService{
		registry: registry,
		repos:    repos,
		logger:   logger,
	}
}

// SyncAll registers the head revision of every configured repository.
// Repositories are synced concurrently and a failure in one does not stop
// the others.
func (s *SyncService) SyncAll(ctx context.Context) error {
	s.running.Lock()
	defer s.running.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(s.repos))

	for _, repo := range s.repos {
		wg.Add(1)
		go func(repo config.Repo) {
			defer wg.Done()
			if err := s.syncRepo(ctx, repo); err != nil {
				errChan <- fmt.Errorf("failed to sync repo %s: %w", repo.URL, err)
			}
		}(repo)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *SyncService) syncRepo(ctx context.Context, repo config.Repo) error {
	id, err := s.registry.Register(ctx, RegisterRequest{
		RepositoryURL: repo.URL,
		Description:   repo.Description,
	})
	if err != nil {
		return err
	}

	s.logger.Info("repository synchronized",
		zap.String("url", repo.URL),
		zap.Int64("package_id", id),
	)
	return nil
}

// LastSync reports when SyncAll last finished. It is zero before the first run.
func (s *SyncService) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// Run calls SyncAll every interval until ctx is done.
func (s *SyncService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncAll(ctx); err != nil {
				s.logger.Error("periodic sync failed", zap.Error(err))
			} else {
				s.logger.Info("periodic sync completed successfully")
			}
		}
	}
}
