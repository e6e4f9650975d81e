package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/code-payments/stake-pool-server/pkg/database/query"
	"github.com/code-payments/stake-pool-server/pkg/pointer"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
)

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*journal.Record
}

// New returns a new in memory journal.Store
func New() journal.Store {
	return &store{}
}

// Put implements journal.Store.Put
func (s *store) Put(_ context.Context, data *journal.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.findBySignature(data.Signature); item != nil {
		return journal.ErrAlreadyExists
	}

	s.last++
	data.Id = s.last
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}

	cloned := data.Clone()
	s.records = append(s.records, &cloned)
	return nil
}

// Update implements journal.Store.Update
func (s *store) Update(_ context.Context, data *journal.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findBySignature(data.Signature)
	if item == nil {
		return journal.ErrNotFound
	}

	item.Status = data.Status
	item.ProgramCode = pointer.Copy(data.ProgramCode)
	item.Error = pointer.Copy(data.Error)
	item.ConfirmedAt = pointer.Copy(data.ConfirmedAt)

	item.CopyTo(data)
	return nil
}

// Get implements journal.Store.Get
func (s *store) Get(_ context.Context, signature string) (*journal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findBySignature(signature)
	if item == nil {
		return nil, journal.ErrNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// GetAllByCycle implements journal.Store.GetAllByCycle
func (s *store) GetAllByCycle(_ context.Context, cycleId string) ([]*journal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*journal.Record
	for _, item := range s.records {
		if item.CycleId == cycleId {
			items = append(items, item)
		}
	}

	if len(items) == 0 {
		return nil, journal.ErrNotFound
	}
	return cloneSlice(items), nil
}

// GetAll implements journal.Store.GetAll
func (s *store) GetAll(_ context.Context, opts ...query.Option) ([]*journal.Record, error) {
	page, err := query.NewPage(opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*journal.Record
	for _, item := range s.records {
		if page.After(item.Id) {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if page.Order == query.Descending {
			return items[i].Id > items[j].Id
		}
		return items[i].Id < items[j].Id
	})

	if len(items) == 0 {
		return nil, journal.ErrNotFound
	} else if uint64(len(items)) > page.Limit {
		items = items[:page.Limit]
	}
	return cloneSlice(items), nil
}

// CountByStatus implements journal.Store.CountByStatus
func (s *store) CountByStatus(_ context.Context, status journal.Status) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count uint64
	for _, item := range s.records {
		if item.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *store) findBySignature(signature string) *journal.Record {
	for _, item := range s.records {
		if item.Signature == signature {
			return item
		}
	}
	return nil
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
	s.records = nil
}

func cloneSlice(items []*journal.Record) []*journal.Record {
	var res []*journal.Record
	for _, item := range items {
		cloned := item.Clone()
		res = append(res, &cloned)
	}
	return res
}
