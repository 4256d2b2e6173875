package archive

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-archive-server/internal/db"
	"weather-archive-server/internal/migrate"
	"weather-archive-server/internal/modules/weather/repository"
	"weather-archive-server/internal/modules/weather/types"
	"weather-archive-server/internal/observability"
)

func newStore(t *testing.T) repository.ObservationRepository {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.Run(context.Background(), conn, db.SQLite))
	return repository.NewRepository(conn, db.SQLite)
}

func store(t *testing.T, repo repository.ObservationRepository, ts ...time.Time) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.BeginBatch(ctx)
	require.NoError(t, err)
	for _, at := range ts {
		o := types.Observation{Timestamp: at}
		require.NoError(t, tx.Insert(ctx, &o))
	}
	require.NoError(t, tx.Commit())
}

func newService(repo repository.ObservationRepository, clock clockwork.Clock) (*Service, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewService(repo, NewYearBoundsCache(clock, DefaultYearBoundsTTL), m), m
}

func TestQuery_YearFilterPagedNewestFirst(t *testing.T) {
	repo := newStore(t)
	var ts []time.Time
	for _, y := range []int{2010, 2011} {
		for d := 1; d <= 5; d++ {
			ts = append(ts, time.Date(y, time.March, d, 12, 0, 0, 0, time.UTC))
		}
	}
	store(t, repo, ts...)
	svc, _ := newService(repo, clockwork.NewFakeClock())
	year := 2010

	first, err := svc.Query(context.Background(), types.Filter{Year: &year, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, first.TotalCount)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, 1, first.Page)
	assert.False(t, first.HasPrev)
	assert.True(t, first.HasNext)
	require.Len(t, first.Items, 2)
	assert.Equal(t, 5, first.Items[0].Timestamp.Day())
	assert.Equal(t, 4, first.Items[1].Timestamp.Day())

	last, err := svc.Query(context.Background(), types.Filter{Year: &year, Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, 1, last.Items[0].Timestamp.Day())
	assert.True(t, last.HasPrev)
	assert.False(t, last.HasNext)

	for _, p := range []types.Page{first, last} {
		for _, o := range p.Items {
			assert.Equal(t, 2010, o.Timestamp.Year())
		}
	}
}

func TestQuery_MonthFilterAndDefaults(t *testing.T) {
	repo := newStore(t)
	store(t, repo,
		time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2010, time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2011, time.February, 1, 0, 0, 0, 0, time.UTC),
	)
	svc, _ := newService(repo, clockwork.NewFakeClock())
	feb := 2

	page, err := svc.Query(context.Background(), types.Filter{Month: &feb})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2011, page.Items[0].Timestamp.Year())
}

func TestQuery_EmptyArchive(t *testing.T) {
	svc, _ := newService(newStore(t), clockwork.NewFakeClock())

	page, err := svc.Query(context.Background(), types.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)
	assert.Equal(t, 0, page.TotalPages)
	assert.NotNil(t, page.Items)
	assert.False(t, page.HasNext)
}

func TestNormalize_Rejects(t *testing.T) {
	month13, year0 := 13, 0
	tests := []struct {
		name string
		f    types.Filter
	}{
		{"negative page", types.Filter{Page: -1}},
		{"page size too large", types.Filter{PageSize: MaxPageSize + 1}},
		{"negative page size", types.Filter{PageSize: -5}},
		{"month out of range", types.Filter{Month: &month13}},
		{"year zero", types.Filter{Year: &year0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.f)
			assert.True(t, errors.Is(err, ErrInvalidFilter), "got %v", err)
		})
	}
}

// countingRepo counts YearBounds calls on top of a real store.
type countingRepo struct {
	repository.ObservationRepository
	boundsCalls int
}

func (r *countingRepo) YearBounds(ctx context.Context) (types.YearBounds, error) {
	r.boundsCalls++
	return r.ObservationRepository.YearBounds(ctx)
}

func TestYearBounds_CachedUntilInvalidated(t *testing.T) {
	repo := &countingRepo{ObservationRepository: newStore(t)}
	clock := clockwork.NewFakeClock()
	svc, m := newService(repo, clock)
	ctx := context.Background()

	b, err := svc.YearBounds(ctx)
	require.NoError(t, err)
	assert.True(t, b.Empty)

	store(t, repo,
		time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
	)

	b, err = svc.YearBounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.YearBounds{Min: 2008, Max: 2012}, b, "empty result was not cached")

	store(t, repo, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))
	b, err = svc.YearBounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2012, b.Max, "served from cache")
	assert.Equal(t, 2, repo.boundsCalls)

	svc.cache.Invalidate()
	b, err = svc.YearBounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2015, b.Max)
	assert.Equal(t, 3, repo.boundsCalls)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.YearBoundsCache.WithLabelValues("hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.YearBoundsCache.WithLabelValues("miss")))
}

func TestYearBounds_ExpiresAfterIdleDay(t *testing.T) {
	repo := &countingRepo{ObservationRepository: newStore(t)}
	store(t, repo, time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC))
	clock := clockwork.NewFakeClock()
	svc, _ := newService(repo, clock)
	ctx := context.Background()

	_, err := svc.YearBounds(ctx)
	require.NoError(t, err)
	clock.Advance(DefaultYearBoundsTTL + time.Second)
	_, err = svc.YearBounds(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, repo.boundsCalls)
}

// committingRepo invalidates the cache while the bounds query is in flight,
// the way a batch commit landing mid-read would.
type committingRepo struct {
	repository.ObservationRepository
	cache *YearBoundsCache
	calls int
}

func (r *committingRepo) YearBounds(context.Context) (types.YearBounds, error) {
	r.calls++
	if r.calls == 1 {
		r.cache.Invalidate()
	}
	return types.YearBounds{Min: 2010, Max: 2010 + r.calls - 1}, nil
}

func TestYearBounds_ReadRacingCommitIsNotCached(t *testing.T) {
	cache := NewYearBoundsCache(clockwork.NewFakeClock(), DefaultYearBoundsTTL)
	repo := &committingRepo{cache: cache}
	svc := NewService(repo, cache, observability.NewMetricsForTesting())
	ctx := context.Background()

	b, err := svc.YearBounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2010, b.Max)

	_, _, ok := cache.Get()
	assert.False(t, ok, "bounds read before the commit must not be cached")

	b, err = svc.YearBounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2011, b.Max)
	assert.Equal(t, 2, repo.calls)

	b, err = svc.YearBounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2011, b.Max, "second read was cached")
	assert.Equal(t, 2, repo.calls)
}
