package prescription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository"
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
	"github.com/jwalitptl/rx-portal/pkg/logger"
	"github.com/jwalitptl/rx-portal/pkg/metrics"
)

type PrescriptionService interface {
	ListPrescriptions(ctx context.Context, filters *model.PrescriptionListFilters) ([]model.Prescription, error)
	GetPrescription(ctx context.Context, id string) (*model.Prescription, error)
	RequestRefill(ctx context.Context, id string) (*model.RefillResponse, error)
}

type Config struct {
	CacheEnabled    bool
	CacheTTL        time.Duration
	CleanupInterval time.Duration
}

type Service struct {
	repo    repository.PrescriptionRepository
	cache   *cache.Cache
	logger  *logger.Logger
	metrics *metrics.Metrics

	// gen is bumped on every refill. Reads that started under an older
	// generation are not cached.
	mu  sync.Mutex
	gen uint64
}

func NewService(repo repository.PrescriptionRepository, cfg Config, log *logger.Logger, m *metrics.Metrics) *Service {
	s := &Service{
		repo:    repo,
		logger:  log,
		metrics: m,
	}
	if cfg.CacheEnabled && cfg.CacheTTL > 0 {
		s.cache = cache.New(cfg.CacheTTL, cfg.CleanupInterval)
	}
	return s
}

func (s *Service) ListPrescriptions(ctx context.Context, filters *model.PrescriptionListFilters) ([]model.Prescription, error) {
	key := listKey(filters)
	if items, ok := s.cached(key, "list"); ok {
		return append([]model.Prescription(nil), items.([]model.Prescription)...), nil
	}

	gen := s.generation()
	var items []model.Prescription
	err := s.observe("get_all", func() (err error) {
		items, err = s.repo.GetAll(ctx, filters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}

	s.store(key, gen, items)
	return append([]model.Prescription(nil), items...), nil
}

// GetPrescription returns a not-found AppError for unknown ids.
func (s *Service) GetPrescription(ctx context.Context, id string) (*model.Prescription, error) {
	key := "rx:" + id
	if p, ok := s.cached(key, "get"); ok {
		clone := p.(model.Prescription)
		return &clone, nil
	}

	gen := s.generation()
	var p *model.Prescription
	err := s.observe("get_by_id", func() (err error) {
		p, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	if p == nil {
		return nil, apperrors.NotFound("prescription", fmt.Errorf("id %q", id))
	}

	s.store(key, gen, *p)
	s.logger.WithContext(ctx).Info("audit", "action", "read", "entity_type", "prescription", "entity_id", id)
	return p, nil
}

func (s *Service) RequestRefill(ctx context.Context, id string) (*model.RefillResponse, error) {
	log := s.logger.WithContext(ctx)

	err := s.observe("request_refill", func() error {
		return s.repo.RequestRefill(ctx, id)
	})
	s.metrics.RefillRequests.WithLabelValues(refillOutcome(err)).Inc()
	if err != nil {
		log.Warn("refill rejected", "prescription_id", id, "code", apperrors.CodeOf(err).String(), "error", err.Error())
		return nil, fmt.Errorf("failed to request refill: %w", err)
	}

	s.invalidate()
	log.Info("audit", "action", "refill_requested", "entity_type", "prescription", "entity_id", id)

	return &model.RefillResponse{ID: id, Status: model.PrescriptionStatusRefillRequested}, nil
}

func (s *Service) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.RepositoryLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.metrics.RepositoryOperations.WithLabelValues(op, metrics.Status(err)).Inc()
	return err
}

func (s *Service) cached(key, kind string) (interface{}, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	result := "miss"
	if ok {
		result = "hit"
	}
	s.metrics.CacheLookups.WithLabelValues(kind, result).Inc()
	return v, ok
}

func (s *Service) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// store caches v unless a refill happened since gen was read.
func (s *Service) store(key string, gen uint64, v interface{}) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.cache.Set(key, v, cache.DefaultExpiration)
	}
}

func (s *Service) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cache != nil {
		s.cache.Flush()
	}
}

func listKey(f *model.PrescriptionListFilters) string {
	if f == nil {
		return fmt.Sprintf("list:%q|%q", "", "")
	}
	return fmt.Sprintf("list:%q|%q", f.Search, f.Status)
}

func refillOutcome(err error) string {
	if err == nil {
		return "success"
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound:
		return "not_found"
	case apperrors.ErrConflict:
		return "conflict"
	default:
		return "error"
	}
}
