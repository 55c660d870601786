package storage

import "errors"

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay buffers writes on top of a parent database. Reads observe the buffered
// writes first. Nothing reaches the parent until Commit, which hands the whole
// buffer to Database.Apply so an invocation lands entirely or not at all.
type Overlay struct {
	parent  Database
	pending map[string][]byte
	order   []string
	closed  bool
}

// NewOverlay starts an empty write buffer over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{parent: parent, pending: make(map[string][]byte)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if value, ok := o.pending[string(key)]; ok {
		if value == nil {
			return nil, ErrNotFound
		}
		return append([]byte(nil), value...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	if value, ok := o.pending[string(key)]; ok {
		return value != nil, nil
	}
	return o.parent.Has(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	o.record(key, cp)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	o.record(key, nil)
	return nil
}

func (o *Overlay) record(key []byte, value []byte) {
	k := string(key)
	if _, seen := o.pending[k]; !seen {
		o.order = append(o.order, k)
	}
	o.pending[k] = value
}

// Writes returns the buffered mutations in first-touch order.
func (o *Overlay) Writes() []Write {
	writes := make([]Write, 0, len(o.order))
	for _, k := range o.order {
		writes = append(writes, Write{Key: []byte(k), Value: o.pending[k]})
	}
	return writes
}

// Commit flushes the buffer to the parent atomically.
func (o *Overlay) Commit() error {
	if o.closed {
		return errOverlayClosed
	}
	o.closed = true
	if len(o.order) == 0 {
		return nil
	}
	return o.parent.Apply(o.Writes())
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.closed = true
	o.pending = make(map[string][]byte)
	o.order = nil
}
