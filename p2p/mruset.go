// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"container/list"
	"sync"

	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// mruInventorySet is a most-recently-used set of inventory vectors with a
// bounded size.  Once the cap is reached the entry that has gone longest
// without being added again is evicted.
type mruInventorySet struct {
	mtx   sync.Mutex
	set   map[wire.InvVect]*list.Element
	order *list.List // Front is most recent.
	limit int
}

// newMruInventorySet returns a new set bounded to limit entries.
func newMruInventorySet(limit int) *mruInventorySet {
	return &mruInventorySet{
		set:   make(map[wire.InvVect]*list.Element),
		order: list.New(),
		limit: limit,
	}
}

// Exists reports whether the passed inventory is in the set.
func (m *mruInventorySet) Exists(iv *wire.InvVect) bool {
	m.mtx.Lock()
	_, exists := m.set[*iv]
	m.mtx.Unlock()
	return exists
}

// Add inserts the passed inventory into the set, refreshing its recency when
// it already exists, and evicts the oldest entry when the limit is hit.
func (m *mruInventorySet) Add(iv *wire.InvVect) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if elem, exists := m.set[*iv]; exists {
		m.order.MoveToFront(elem)
		return
	}

	if m.limit > 0 && m.order.Len() >= m.limit {
		back := m.order.Back()
		if back != nil {
			oldest := back.Value.(wire.InvVect)
			delete(m.set, oldest)
			m.order.Remove(back)
		}
	}

	m.set[*iv] = m.order.PushFront(*iv)
}

// Delete removes the passed inventory from the set, when present.
func (m *mruInventorySet) Delete(iv *wire.InvVect) {
	m.mtx.Lock()
	if elem, exists := m.set[*iv]; exists {
		delete(m.set, *iv)
		m.order.Remove(elem)
	}
	m.mtx.Unlock()
}
