package stock

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type memItem struct {
	name      string
	count     *int
	threshold *int
}

type memStore struct {
	items    map[string]*memItem
	reserved map[string]bool
	calls    []string
	failOnID string
}

func newMemStore() *memStore {
	return &memStore{items: map[string]*memItem{}, reserved: map[string]bool{}}
}

func (s *memStore) add(id string, count, threshold *int) {
	s.items[id] = &memItem{name: "item " + id, count: count, threshold: threshold}
}

func (s *memStore) level(id string) Level {
	it := s.items[id]
	lvl := Level{MenuItemID: id, Name: it.name, LowStockAlert: it.threshold}
	if it.count != nil {
		lvl.Tracked = true
		lvl.Count = *it.count
	}
	return lvl
}

func (s *memStore) Decrement(_ context.Context, id string, qty int) (Level, bool, error) {
	s.calls = append(s.calls, "dec:"+id)
	if id == s.failOnID {
		return Level{}, false, errors.New("connection lost")
	}
	it := s.items[id]
	if it.count == nil {
		return s.level(id), true, nil
	}
	if *it.count < qty {
		return s.level(id), false, nil
	}
	*it.count -= qty
	return s.level(id), true, nil
}

func (s *memStore) Increment(_ context.Context, id string, qty int) (Level, error) {
	s.calls = append(s.calls, "inc:"+id)
	it := s.items[id]
	if it.count != nil {
		*it.count += qty
	}
	return s.level(id), nil
}

func (s *memStore) ClaimRelease(_ context.Context, orderID string) (bool, error) {
	if !s.reserved[orderID] {
		return false, nil
	}
	s.reserved[orderID] = false
	return true, nil
}

func intPtr(v int) *int {
	return &v
}

// --- Tests ---

func TestReserve_MergesAndOrdersLines(t *testing.T) {
	store := newMemStore()
	store.add("b", intPtr(10), nil)
	store.add("a", intPtr(10), nil)

	_, err := NewLedger(store).Reserve(context.Background(), []Line{
		{MenuItemID: "b", Quantity: 1},
		{MenuItemID: "a", Quantity: 2},
		{MenuItemID: "b", Quantity: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"dec:a", "dec:b"}, store.calls)
	assert.Equal(t, 8, *store.items["a"].count)
	assert.Equal(t, 6, *store.items["b"].count)
}

func TestReserve_OutOfStock(t *testing.T) {
	store := newMemStore()
	store.add("a", intPtr(1), nil)

	_, err := NewLedger(store).Reserve(context.Background(), []Line{{MenuItemID: "a", Quantity: 2}})

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, "a", oos.MenuItemID)
	assert.Equal(t, 2, oos.Requested)
	assert.Equal(t, 1, oos.Available)
	assert.Equal(t, 1, *store.items["a"].count)
}

func TestReserve_UntrackedItemsAreIgnored(t *testing.T) {
	store := newMemStore()
	store.add("a", nil, intPtr(3))

	alerts, err := NewLedger(store).Reserve(context.Background(), []Line{{MenuItemID: "a", Quantity: 50}})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestReserve_LowStockCrossing(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		threshold int
		qty       int
		wantAlert bool
	}{
		{name: "crosses threshold", count: 6, threshold: 5, qty: 2, wantAlert: true},
		{name: "lands on threshold", count: 6, threshold: 5, qty: 1, wantAlert: true},
		{name: "stays above", count: 10, threshold: 5, qty: 2, wantAlert: false},
		{name: "already below", count: 4, threshold: 5, qty: 1, wantAlert: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.add("a", intPtr(tt.count), intPtr(tt.threshold))

			alerts, err := NewLedger(store).Reserve(context.Background(), []Line{{MenuItemID: "a", Quantity: tt.qty}})
			require.NoError(t, err)

			if !tt.wantAlert {
				assert.Empty(t, alerts)
				return
			}
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.count-tt.qty, alerts[0].Count)
			assert.Equal(t, tt.threshold, alerts[0].Threshold)
		})
	}
}

func TestReserve_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.add("a", intPtr(5), nil)
	store.failOnID = "a"

	_, err := NewLedger(store).Reserve(context.Background(), []Line{{MenuItemID: "a", Quantity: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrement stock of a")
}

func TestRelease_RestocksOnce(t *testing.T) {
	store := newMemStore()
	store.add("a", intPtr(3), nil)
	store.reserved["order-1"] = true
	ledger := NewLedger(store)
	lines := []Line{{MenuItemID: "a", Quantity: 2}}

	released, err := ledger.Release(context.Background(), "order-1", lines)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, 5, *store.items["a"].count)

	released, err = ledger.Release(context.Background(), "order-1", lines)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 5, *store.items["a"].count)
}
