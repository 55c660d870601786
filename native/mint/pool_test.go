package mint

import (
	"errors"
	"testing"
)

type failingPoolState struct {
	*mockState
	getErr error
}

func (f *failingPoolState) MintPoolGet(index uint64) (*PreLoad, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.mockState.MintPoolGet(index)
}

func seededPool(ids ...string) (*Pool, *mockState) {
	state := newMockState()
	for i, id := range ids {
		state.pool[uint64(i+1)] = &PreLoad{ID: id}
	}
	return NewPool(state), state
}

func TestPoolTakeLast(t *testing.T) {
	pool, state := seededPool("A", "B", "C")
	item, err := pool.Take(3, 3)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if item.ID != "C" {
		t.Fatalf("expected C, got %s", item.ID)
	}
	if len(state.pool) != 2 || state.pool[1].ID != "A" || state.pool[2].ID != "B" {
		t.Fatalf("unexpected pool after taking last: %+v", state.pool)
	}
}

func TestPoolTakeMovesLastIntoGap(t *testing.T) {
	pool, state := seededPool("A", "B", "C", "D")
	item, err := pool.Take(1, 4)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if item.ID != "A" {
		t.Fatalf("expected A, got %s", item.ID)
	}
	if state.pool[1].ID != "D" {
		t.Fatalf("expected D moved into slot 1, got %s", state.pool[1].ID)
	}
	if _, ok := state.pool[4]; ok {
		t.Fatalf("slot 4 should be empty")
	}
}

func TestPoolTakeSingle(t *testing.T) {
	pool, state := seededPool("A")
	item, err := pool.Take(1, 1)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if item.ID != "A" || len(state.pool) != 0 {
		t.Fatalf("expected empty pool after taking only item")
	}
}

func TestPoolTakeOutOfRange(t *testing.T) {
	pool, _ := seededPool("A", "B")
	for _, k := range []uint64{0, 3} {
		if _, err := pool.Take(k, 2); !errors.Is(err, ErrPoolCorrupt) {
			t.Fatalf("index %d: expected ErrPoolCorrupt, got %v", k, err)
		}
	}
}

func TestPoolTakeMissingIsCorrupt(t *testing.T) {
	pool, state := seededPool("A", "B", "C")
	delete(state.pool, 3)
	if _, err := pool.Take(1, 3); !errors.Is(err, ErrPoolCorrupt) {
		t.Fatalf("missing tail: expected ErrPoolCorrupt, got %v", err)
	}
	if state.pool[1].ID != "A" {
		t.Fatalf("failed take must not move items")
	}
}

func TestPoolStorageErrorsPassThrough(t *testing.T) {
	boom := errors.New("disk on fire")
	state := &failingPoolState{mockState: newMockState(), getErr: boom}
	pool := NewPool(state)
	_, err := pool.Take(1, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if errors.Is(err, ErrPoolCorrupt) {
		t.Fatalf("storage failures must not read as corruption")
	}
}

func TestPoolGetMissing(t *testing.T) {
	pool, _ := seededPool()
	if _, err := pool.Get(1); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if err := pool.Remove(7); err != nil {
		t.Fatalf("removing absent index: %v", err)
	}
}
