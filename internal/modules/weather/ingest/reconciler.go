package ingest

import (
	"context"
	"fmt"

	"weather-archive-server/internal/modules/weather/repository"
	"weather-archive-server/internal/modules/weather/types"
)

type staged struct {
	obs    types.Observation
	insert bool
}

// unitOfWork holds the records a batch has decided to write, keyed by
// timestamp, in first-seen order. Nothing reaches the store before flush.
type unitOfWork struct {
	byKey map[string]*staged
	order []string
}

func newUnitOfWork() *unitOfWork {
	return &unitOfWork{byKey: make(map[string]*staged)}
}

func (u *unitOfWork) get(key string) (*staged, bool) {
	s, ok := u.byKey[key]
	return s, ok
}

func (u *unitOfWork) put(s *staged) {
	key := s.obs.Key()
	if _, ok := u.byKey[key]; !ok {
		u.order = append(u.order, key)
	}
	u.byKey[key] = s
}

func (u *unitOfWork) len() int { return len(u.order) }

// Reconciler decides insert or update for each normalized observation of a
// batch. Later observations for a timestamp see earlier staged ones.
type Reconciler struct {
	tx  repository.BatchTx
	uow *unitOfWork
}

func NewReconciler(tx repository.BatchTx) *Reconciler {
	return &Reconciler{tx: tx, uow: newUnitOfWork()}
}

// Reconcile stages o. A record already staged or stored under the same
// timestamp is fully replaced by o, keeping its ID.
func (r *Reconciler) Reconcile(ctx context.Context, o types.Observation) (RowOutcome, error) {
	key := o.Key()
	if s, ok := r.uow.get(key); ok {
		s.obs.Assign(o)
		return RowUpdated, nil
	}

	existing, err := r.tx.FindByTimestamp(ctx, o.Timestamp)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}
	if existing != nil {
		existing.Assign(o)
		r.uow.put(&staged{obs: *existing})
		return RowUpdated, nil
	}

	o.ID = 0
	r.uow.put(&staged{obs: o, insert: true})
	return RowInserted, nil
}

// Pending is the number of distinct records staged so far.
func (r *Reconciler) Pending() int { return r.uow.len() }

// Flush writes every staged record through the transaction. It stops at the
// first error; the caller must then roll back.
func (r *Reconciler) Flush(ctx context.Context) (inserted, updated int, err error) {
	for _, key := range r.uow.order {
		s := r.uow.byKey[key]
		if s.insert {
			if err := r.tx.Insert(ctx, &s.obs); err != nil {
				return inserted, updated, err
			}
			inserted++
			continue
		}
		if err := r.tx.Update(ctx, s.obs); err != nil {
			return inserted, updated, err
		}
		updated++
	}
	return inserted, updated, nil
}
