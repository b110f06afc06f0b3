package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/repository/repotest"
)

func codesOf(gcs []model.GiftCode) []string {
	res := make([]string, 0, len(gcs))
	for _, gc := range gcs {
		res = append(res, gc.Code)
	}
	return res
}

func TestAllocate_RedeliveryClaimsNothingNew(t *testing.T) {
	store := repotest.New()
	store.Seed(100, "A1", "A2", "A3")
	a := New(store)
	ctx := context.Background()

	reqs := []model.Requirement{{Denomination: 100, Quantity: 2}}

	first, err := a.Allocate(ctx, "ORD-1", "1001", reqs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, codesOf(first))

	second, err := a.Allocate(ctx, "ORD-1", "1001", reqs)
	require.NoError(t, err)
	assert.Empty(t, second)

	held, err := store.GetCodesByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Len(t, held, 2)
}

func TestAllocate_ExhaustionRollsBackEverything(t *testing.T) {
	store := repotest.New()
	store.Seed(100, "A1", "A2")
	a := New(store)
	ctx := context.Background()

	_, err := a.Allocate(ctx, "ORD-1", "1001", []model.Requirement{
		{Denomination: 100, Quantity: 2},
		{Denomination: 200, Quantity: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPoolExhausted))

	var exhausted *PoolExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 200, exhausted.Denomination)
	assert.Equal(t, "ORD-1", exhausted.OrderID)

	held, err := store.GetCodesByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Empty(t, held)

	stats, err := store.GetPoolStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.PoolStat{{Denomination: 100, Free: 2}}, stats)
}

func TestAllocate_RespectsPartialPriorAllocation(t *testing.T) {
	store := repotest.New()
	store.Seed(100, "A1", "A2", "A3", "A4")
	a := New(store)
	ctx := context.Background()

	_, err := a.Allocate(ctx, "ORD-1", "", []model.Requirement{{Denomination: 100, Quantity: 1}})
	require.NoError(t, err)

	more, err := a.Allocate(ctx, "ORD-1", "", []model.Requirement{{Denomination: 100, Quantity: 3}})
	require.NoError(t, err)
	assert.Len(t, more, 2)

	held, err := store.GetCodesByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Len(t, held, 3)
}

func TestAllocate_AggregatesDuplicateLines(t *testing.T) {
	store := repotest.New()
	store.Seed(100, "A1", "A2", "A3")
	a := New(store)
	ctx := context.Background()

	reqs := []model.Requirement{
		{Denomination: 100, Quantity: 1},
		{Denomination: 100, Quantity: 1},
	}

	first, err := a.Allocate(ctx, "ORD-1", "", reqs)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := a.Allocate(ctx, "ORD-1", "", reqs)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestAllocate_ConcurrentOrdersGetDistinctCodes(t *testing.T) {
	const n = 20

	store := repotest.New()
	for i := 0; i < n; i++ {
		store.Seed(100, fmt.Sprintf("C%02d", i))
	}
	a := New(store)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		got     = map[string]string{}
		errsCnt int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := fmt.Sprintf("ORD-%d", i)
			claimed, err := a.Allocate(context.Background(), orderID, "", []model.Requirement{{Denomination: 100, Quantity: 1}})

			mu.Lock()
			defer mu.Unlock()
			if err != nil || len(claimed) != 1 {
				errsCnt++
				return
			}
			got[claimed[0].Code] = orderID
		}(i)
	}
	wg.Wait()

	assert.Zero(t, errsCnt)
	assert.Len(t, got, n)
}

func TestAllocate_PropagatesStoreFailure(t *testing.T) {
	store := repotest.New()
	store.Seed(100, "A1")
	store.ClaimErr = errors.New("connection reset")
	a := New(store)

	claimed, err := a.Allocate(context.Background(), "ORD-1", "", []model.Requirement{{Denomination: 100, Quantity: 1}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPoolExhausted))
	assert.Nil(t, claimed)
}

func TestAllocate_RequiresOrderID(t *testing.T) {
	a := New(repotest.New())

	_, err := a.Allocate(context.Background(), "", "", []model.Requirement{{Denomination: 100, Quantity: 1}})
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]model.Requirement{
		{Denomination: 300, Quantity: 1},
		{Denomination: 100, Quantity: 2},
		{Denomination: 100, Quantity: 1},
		{Denomination: 200, Quantity: 0},
		{Denomination: -5, Quantity: 3},
	})

	assert.Equal(t, []model.Requirement{
		{Denomination: 100, Quantity: 3},
		{Denomination: 300, Quantity: 1},
	}, got)
}
