package mint

import (
	"errors"
	"fmt"
)

type poolState interface {
	MintPoolGet(index uint64) (*PreLoad, bool, error)
	MintPoolPut(index uint64, item *PreLoad) error
	MintPoolDelete(index uint64) error
}

// Pool addresses items by dense 1-based index.
type Pool struct {
	state poolState
}

// NewPool binds the pool to its backing state.
func NewPool(state poolState) *Pool {
	return &Pool{state: state}
}

// Insert writes item at key, overwriting whatever was there.
func (p *Pool) Insert(key uint64, item *PreLoad) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return p.state.MintPoolPut(key, item)
}

// Get returns the item at key or ErrItemNotFound.
func (p *Pool) Get(key uint64) (*PreLoad, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	item, ok, err := p.state.MintPoolGet(key)
	if err != nil {
		return nil, err
	}
	if !ok || item == nil {
		return nil, fmt.Errorf("%w: index %d", ErrItemNotFound, key)
	}
	return item, nil
}

// Remove deletes key if present. Absent keys are not an error.
func (p *Pool) Remove(key uint64) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return p.state.MintPoolDelete(key)
}

// Take removes the item at k from a pool occupying 1..=n and moves the item at n
// into slot k, leaving 1..=n-1 occupied. The caller owns decrementing n.
func (p *Pool) Take(k, n uint64) (*PreLoad, error) {
	if k == 0 || k > n {
		return nil, fmt.Errorf("%w: index %d outside 1..%d", ErrPoolCorrupt, k, n)
	}
	item, err := p.Get(k)
	if err != nil {
		return nil, corrupt(err)
	}
	if k == n {
		if err := p.Remove(n); err != nil {
			return nil, err
		}
		return item, nil
	}
	last, err := p.Get(n)
	if err != nil {
		return nil, corrupt(err)
	}
	if err := p.Remove(n); err != nil {
		return nil, err
	}
	if err := p.Insert(k, last); err != nil {
		return nil, err
	}
	return item, nil
}

// corrupt upgrades a missing index to ErrPoolCorrupt; storage failures pass through.
func corrupt(err error) error {
	if errors.Is(err, ErrItemNotFound) {
		return fmt.Errorf("%w: %v", ErrPoolCorrupt, err)
	}
	return err
}
