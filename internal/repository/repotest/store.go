// Package repotest предоставляет хранилище в памяти с теми же контрактами,
// что и PostgresRepository, для тестов выдачи кодов и журнала событий.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/repository"
)

// Store хранит пул кодов и журнал событий в памяти.
// Транзакции выдачи выполняются строго последовательно.
type Store struct {
	txMu sync.Mutex

	mu     sync.Mutex
	codes  []model.GiftCode
	events []model.FulfillmentEvent
	nextID int64

	// EventErr, если задан, возвращается из InsertEvent.
	EventErr error
	// ClaimErr, если задан, возвращается из ClaimFree вместо выдачи кода.
	ClaimErr error
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{}
}

// Seed добавляет свободные коды номинала без проверок.
func (s *Store) Seed(denomination int, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range codes {
		s.codes = append(s.codes, model.GiftCode{Code: c, Denomination: denomination, CreatedAt: time.Now()})
	}
}

// Close ничего не делает.
func (s *Store) Close() error { return nil }

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// ImportCodes повторяет семантику PostgresRepository.ImportCodes.
func (s *Store) ImportCodes(_ context.Context, denomination int, codes []string) (model.ImportResult, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	res := model.ImportResult{Rejected: []model.RejectedCode{}}
	existing := make(map[string]struct{}, len(s.codes))
	for _, c := range s.codes {
		existing[c.Code] = struct{}{}
	}

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if _, dup := seen[code]; dup {
			res.Rejected = append(res.Rejected, model.RejectedCode{Code: code, Reason: repository.RejectDuplicateBatch})
			continue
		}
		seen[code] = struct{}{}

		if _, ok := existing[code]; ok {
			res.Rejected = append(res.Rejected, model.RejectedCode{Code: code, Reason: repository.RejectAlreadyInPool})
			continue
		}
		s.codes = append(s.codes, model.GiftCode{Code: code, Denomination: denomination, CreatedAt: time.Now()})
		res.Inserted++
	}

	return res, nil
}

// WithinClaimTx выполняет fn над копией пула и публикует её только при успехе.
func (s *Store) WithinClaimTx(ctx context.Context, fn func(tx repository.ClaimTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	work := make([]model.GiftCode, len(s.codes))
	copy(work, s.codes)
	claimErr := s.ClaimErr
	s.mu.Unlock()

	tx := &memTx{codes: work, claimErr: claimErr}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.codes = tx.codes
	s.mu.Unlock()
	return nil
}

type memTx struct {
	codes    []model.GiftCode
	claimErr error
}

func (t *memTx) LockOrder(context.Context, string) error { return nil }

func (t *memTx) CountClaimed(_ context.Context, orderID string, denomination int) (int, error) {
	n := 0
	for _, c := range t.codes {
		if c.OrderID == orderID && c.Denomination == denomination {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ClaimFree(_ context.Context, orderID, orderRef string, denomination int) (model.GiftCode, error) {
	if t.claimErr != nil {
		return model.GiftCode{}, t.claimErr
	}
	for i := range t.codes {
		c := &t.codes[i]
		if c.Denomination != denomination || c.Claimed() {
			continue
		}
		now := time.Now()
		c.OrderID = orderID
		c.OrderRef = orderRef
		c.ClaimedAt = &now
		return *c, nil
	}
	return model.GiftCode{}, repository.ErrNoFreeCode
}

// GetCodesByOrder возвращает коды, выданные заказу.
func (s *Store) GetCodesByOrder(_ context.Context, orderID string) ([]model.GiftCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.GiftCode
	for _, c := range s.codes {
		if c.OrderID == orderID {
			res = append(res, c)
		}
	}
	return res, nil
}

// GetPoolStats считает свободные и выданные коды по номиналам.
func (s *Store) GetPoolStats(context.Context) ([]model.PoolStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDenom := map[int]*model.PoolStat{}
	for _, c := range s.codes {
		st, ok := byDenom[c.Denomination]
		if !ok {
			st = &model.PoolStat{Denomination: c.Denomination}
			byDenom[c.Denomination] = st
		}
		if c.Claimed() {
			st.Claimed++
		} else {
			st.Free++
		}
	}

	res := make([]model.PoolStat, 0, len(byDenom))
	for _, st := range byDenom {
		res = append(res, *st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Denomination < res[j].Denomination })
	return res, nil
}

// InsertEvent добавляет событие в журнал.
func (s *Store) InsertEvent(_ context.Context, e model.FulfillmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.EventErr != nil {
		return s.EventErr
	}
	s.nextID++
	e.ID = s.nextID
	e.CreatedAt = time.Now()
	s.events = append(s.events, e)
	return nil
}

// GetEvents возвращает события, начиная с самых новых.
func (s *Store) GetEvents(_ context.Context, f model.EventFilter) ([]model.FulfillmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.FulfillmentEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.OrderID != "" && (e.OrderID == nil || *e.OrderID != f.OrderID) {
			continue
		}
		res = append(res, e)
		if f.Limit > 0 && len(res) == f.Limit {
			break
		}
	}
	return res, nil
}

// Events возвращает все события в порядке записи.
func (s *Store) Events() []model.FulfillmentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.FulfillmentEvent, len(s.events))
	copy(res, s.events)
	return res
}
