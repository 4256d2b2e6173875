package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-archive-server/internal/modules/weather/types"
)

// memTx is an in-memory BatchTx that records writes.
type memTx struct {
	stored  map[string]types.Observation
	lookups int
	inserts []types.Observation
	updates []types.Observation
	nextID  int64
	findErr error
}

func newMemTx(existing ...types.Observation) *memTx {
	tx := &memTx{stored: map[string]types.Observation{}, nextID: 100}
	for _, o := range existing {
		tx.stored[o.Key()] = o
	}
	return tx
}

func (m *memTx) FindByTimestamp(_ context.Context, ts time.Time) (*types.Observation, error) {
	m.lookups++
	if m.findErr != nil {
		return nil, m.findErr
	}
	o, ok := m.stored[ts.UTC().Format(types.TimestampLayout)]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memTx) Insert(_ context.Context, o *types.Observation) error {
	m.nextID++
	o.ID = m.nextID
	m.inserts = append(m.inserts, *o)
	return nil
}

func (m *memTx) Update(_ context.Context, o types.Observation) error {
	m.updates = append(m.updates, o)
	return nil
}

func (m *memTx) Commit() error   { return nil }
func (m *memTx) Rollback() error { return nil }

func fp(v float64) *float64 { return &v }
func sp(v string) *string   { return &v }

var t0 = time.Date(2010, 1, 1, 3, 0, 0, 0, time.UTC)

func TestReconcile_NewTimestampStagesInsert(t *testing.T) {
	tx := newMemTx()
	rec := NewReconciler(tx)

	out, err := rec.Reconcile(context.Background(), types.Observation{ID: 9, Timestamp: t0, Temperature: fp(1)})
	require.NoError(t, err)
	assert.Equal(t, RowInserted, out)
	assert.Equal(t, 1, rec.Pending())
	assert.Empty(t, tx.inserts, "nothing is written before Flush")

	ins, upd, err := rec.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ins)
	assert.Equal(t, 0, upd)
	require.Len(t, tx.inserts, 1)
	assert.Equal(t, int64(101), tx.inserts[0].ID, "caller-supplied IDs are never used")
}

func TestReconcile_ExistingTimestampFullReplace(t *testing.T) {
	tx := newMemTx(types.Observation{ID: 42, Timestamp: t0, Temperature: fp(5), AirDirection: sp("С")})
	rec := NewReconciler(tx)

	out, err := rec.Reconcile(context.Background(), types.Observation{Timestamp: t0, AirHumidity: fp(70)})
	require.NoError(t, err)
	assert.Equal(t, RowUpdated, out)

	_, upd, err := rec.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, upd)
	require.Len(t, tx.updates, 1)

	got := tx.updates[0]
	assert.Equal(t, int64(42), got.ID)
	assert.Nil(t, got.Temperature)
	assert.Nil(t, got.AirDirection)
	assert.InDelta(t, 70, *got.AirHumidity, 1e-9)
}

func TestReconcile_SameBatchDuplicatesCollapse(t *testing.T) {
	tx := newMemTx()
	rec := NewReconciler(tx)
	ctx := context.Background()

	first, err := rec.Reconcile(ctx, types.Observation{Timestamp: t0, Temperature: fp(1), VV: fp(10)})
	require.NoError(t, err)
	second, err := rec.Reconcile(ctx, types.Observation{Timestamp: t0, Temperature: fp(2)})
	require.NoError(t, err)

	assert.Equal(t, RowInserted, first)
	assert.Equal(t, RowUpdated, second)
	assert.Equal(t, 1, tx.lookups, "second row is served from the unit of work")

	ins, upd, err := rec.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ins)
	assert.Equal(t, 0, upd)
	require.Len(t, tx.inserts, 1)
	assert.InDelta(t, 2, *tx.inserts[0].Temperature, 1e-9)
	assert.Nil(t, tx.inserts[0].VV)
}

func TestReconcile_LookupErrorPropagates(t *testing.T) {
	tx := newMemTx()
	tx.findErr = errors.New("disk I/O error")
	rec := NewReconciler(tx)

	_, err := rec.Reconcile(context.Background(), types.Observation{Timestamp: t0})
	require.Error(t, err)
	assert.ErrorIs(t, err, tx.findErr)
	assert.Equal(t, 0, rec.Pending())
}

func TestFlush_KeepsFirstSeenOrder(t *testing.T) {
	tx := newMemTx()
	rec := NewReconciler(tx)
	ctx := context.Background()

	for _, h := range []int{6, 3, 9, 3} {
		_, err := rec.Reconcile(ctx, types.Observation{Timestamp: time.Date(2010, 1, 1, h, 0, 0, 0, time.UTC)})
		require.NoError(t, err)
	}
	_, _, err := rec.Flush(ctx)
	require.NoError(t, err)

	var hours []int
	for _, o := range tx.inserts {
		hours = append(hours, o.Timestamp.Hour())
	}
	assert.Equal(t, []int{6, 3, 9}, hours)
}
