// Package allocator реализует идемпотентную выдачу подарочных кодов заказам.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/repository"
)

// ErrPoolExhausted возвращается, если для заказа не хватило свободных кодов.
var ErrPoolExhausted = errors.New("gift code pool exhausted")

// PoolExhaustedError уточняет номинал и заказ, для которых закончились коды.
type PoolExhaustedError struct {
	Denomination int
	OrderID      string
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("%s: denomination %d, order %s", ErrPoolExhausted, e.Denomination, e.OrderID)
}

func (e *PoolExhaustedError) Unwrap() error {
	return ErrPoolExhausted
}

// Store описывает транзакционный доступ к пулу кодов.
type Store interface {
	WithinClaimTx(ctx context.Context, fn func(tx repository.ClaimTx) error) error
}

// Allocator выдаёт заказу ровно столько кодов, сколько ему ещё не хватает.
type Allocator struct {
	store Store
}

// New создаёт Allocator поверх хранилища.
func New(store Store) *Allocator {
	return &Allocator{store: store}
}

// Allocate за одну транзакцию досчитывает дефицит по каждому номиналу и
// закрепляет за заказом недостающие коды. Возвращаются только коды, выданные
// этим вызовом; повторный вызов с уже удовлетворёнными потребностями ничего не
// выдаёт. Если хотя бы одного кода не хватило, откатываются все выдачи вызова и
// возвращается *PoolExhaustedError.
func (a *Allocator) Allocate(ctx context.Context, orderID, orderRef string, reqs []model.Requirement) ([]model.GiftCode, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	reqs = Aggregate(reqs)
	if len(reqs) == 0 {
		return nil, nil
	}

	var claimed []model.GiftCode
	err := a.store.WithinClaimTx(ctx, func(tx repository.ClaimTx) error {
		// транзакция может выполняться повторно
		claimed = claimed[:0]

		if err := tx.LockOrder(ctx, orderID); err != nil {
			return err
		}

		for _, r := range reqs {
			have, err := tx.CountClaimed(ctx, orderID, r.Denomination)
			if err != nil {
				return err
			}

			for deficit := r.Quantity - have; deficit > 0; deficit-- {
				code, err := tx.ClaimFree(ctx, orderID, orderRef, r.Denomination)
				if errors.Is(err, repository.ErrNoFreeCode) {
					return &PoolExhaustedError{Denomination: r.Denomination, OrderID: orderID}
				}
				if err != nil {
					return err
				}
				claimed = append(claimed, code)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// Aggregate суммирует количество по номиналам, отбрасывает неположительные
// значения и упорядочивает результат по номиналу.
func Aggregate(reqs []model.Requirement) []model.Requirement {
	byDenom := make(map[int]int, len(reqs))
	for _, r := range reqs {
		if r.Denomination <= 0 || r.Quantity <= 0 {
			continue
		}
		byDenom[r.Denomination] += r.Quantity
	}

	res := make([]model.Requirement, 0, len(byDenom))
	for d, q := range byDenom {
		res = append(res, model.Requirement{Denomination: d, Quantity: q})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Denomination < res[j].Denomination })
	return res
}
