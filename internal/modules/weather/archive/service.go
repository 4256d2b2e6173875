// Package archive serves read-only views of stored observations.
package archive

import (
	"context"
	"errors"
	"fmt"

	"weather-archive-server/internal/modules/weather/repository"
	"weather-archive-server/internal/modules/weather/types"
	"weather-archive-server/internal/observability"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ErrInvalidFilter is returned for out-of-range filter values.
var ErrInvalidFilter = errors.New("invalid filter")

type Service struct {
	repo    repository.ObservationRepository
	cache   *YearBoundsCache
	metrics *observability.Metrics
}

func NewService(repo repository.ObservationRepository, cache *YearBoundsCache, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, cache: cache, metrics: metrics}
}

// Normalize applies defaults and checks ranges. Page is 1-based.
func Normalize(f types.Filter) (types.Filter, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	switch {
	case f.Page < 1:
		return f, fmt.Errorf("%w: page %d", ErrInvalidFilter, f.Page)
	case f.PageSize < 1 || f.PageSize > MaxPageSize:
		return f, fmt.Errorf("%w: pageSize %d (1..%d)", ErrInvalidFilter, f.PageSize, MaxPageSize)
	case f.Month != nil && (*f.Month < 1 || *f.Month > 12):
		return f, fmt.Errorf("%w: month %d", ErrInvalidFilter, *f.Month)
	case f.Year != nil && (*f.Year < 1 || *f.Year > 9999):
		return f, fmt.Errorf("%w: year %d", ErrInvalidFilter, *f.Year)
	}
	return f, nil
}

// Query returns one page of observations, newest first.
func (s *Service) Query(ctx context.Context, f types.Filter) (types.Page, error) {
	f, err := Normalize(f)
	if err != nil {
		return types.Page{}, err
	}

	total, err := s.repo.CountObservations(ctx, f.Year, f.Month)
	if err != nil {
		return types.Page{}, err
	}
	items, err := s.repo.QueryObservations(ctx, f.Year, f.Month, f.PageSize, (f.Page-1)*f.PageSize)
	if err != nil {
		return types.Page{}, err
	}

	pages := (total + f.PageSize - 1) / f.PageSize
	return types.Page{
		Items:      items,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalCount: total,
		TotalPages: pages,
		HasPrev:    f.Page > 1,
		HasNext:    f.Page < pages,
	}, nil
}

// YearBounds returns the archive's year span, from cache when possible. An
// empty archive is never cached, nor is a result read while a commit
// invalidated the cache.
func (s *Service) YearBounds(ctx context.Context) (types.YearBounds, error) {
	b, gen, ok := s.cache.Get()
	if ok {
		s.metrics.YearBoundsCache.WithLabelValues("hit").Inc()
		return b, nil
	}
	s.metrics.YearBoundsCache.WithLabelValues("miss").Inc()

	b, err := s.repo.YearBounds(ctx)
	if err != nil {
		return types.YearBounds{}, err
	}
	if !b.Empty {
		s.cache.Set(b, gen)
	}
	return b, nil
}
