// Package slots provides an open-addressed hash map keyed by stable numeric ids.
//
// Deleted keys leave a tombstone rather than shifting neighbours, so entries
// never move except when the table grows. Iteration order is the probe order
// and changes whenever the table is rehashed.
package slots

type slotState uint8

const (
	slotEmpty slotState = iota
	slotUsed
	slotTombstone
)

const minCapacity = 8

type slot[V any] struct {
	key   uint64
	val   V
	state slotState
}

type Map[V any] struct {
	slots []slot[V]
	live  int
	tombs int
}

// New returns a map sized for at least hint entries without rehashing.
func New[V any](hint int) *Map[V] {
	c := minCapacity
	for c*3 < hint*4 {
		c <<= 1
	}
	return &Map[V]{slots: make([]slot[V], c)}
}

func (m *Map[V]) Len() int { return m.live }

// Tombstones reports how many deleted slots are still awaiting a rehash.
func (m *Map[V]) Tombstones() int { return m.tombs }

func (m *Map[V]) Get(key uint64) (V, bool) {
	if i, ok := m.find(key); ok {
		return m.slots[i].val, true
	}
	var zero V
	return zero, false
}

func (m *Map[V]) Has(key uint64) bool {
	_, ok := m.find(key)
	return ok
}

// Put inserts or replaces the value for key.
func (m *Map[V]) Put(key uint64, val V) {
	if i, ok := m.find(key); ok {
		m.slots[i].val = val
		return
	}
	if (m.live+m.tombs+1)*4 > len(m.slots)*3 {
		m.rehash()
	}
	mask := uint64(len(m.slots) - 1)
	for i := hash(key) & mask; ; i = (i + 1) & mask {
		s := &m.slots[i]
		if s.state == slotUsed {
			continue
		}
		if s.state == slotTombstone {
			m.tombs--
		}
		s.key, s.val, s.state = key, val, slotUsed
		m.live++
		return
	}
}

// Delete tombstones key. It is safe to call from inside Range.
func (m *Map[V]) Delete(key uint64) bool {
	i, ok := m.find(key)
	if !ok {
		return false
	}
	var zero V
	m.slots[i].val = zero
	m.slots[i].state = slotTombstone
	m.live--
	m.tombs++
	return true
}

// Range calls fn for every live entry until fn returns false. fn may Delete
// but must not Put.
func (m *Map[V]) Range(fn func(key uint64, val V) bool) {
	for i := range m.slots {
		s := &m.slots[i]
		if s.state != slotUsed {
			continue
		}
		if !fn(s.key, s.val) {
			return
		}
	}
}

func (m *Map[V]) Clear() {
	clear(m.slots)
	m.live, m.tombs = 0, 0
}

func (m *Map[V]) find(key uint64) (int, bool) {
	mask := uint64(len(m.slots) - 1)
	for i, n := hash(key)&mask, 0; n < len(m.slots); i, n = (i+1)&mask, n+1 {
		switch m.slots[i].state {
		case slotEmpty:
			return 0, false
		case slotUsed:
			if m.slots[i].key == key {
				return int(i), true
			}
		}
	}
	return 0, false
}

func (m *Map[V]) rehash() {
	c := len(m.slots)
	for (m.live+1)*2 > c {
		c <<= 1
	}
	old := m.slots
	m.slots = make([]slot[V], c)
	m.live, m.tombs = 0, 0
	mask := uint64(c - 1)
	for _, s := range old {
		if s.state != slotUsed {
			continue
		}
		i := hash(s.key) & mask
		for m.slots[i].state == slotUsed {
			i = (i + 1) & mask
		}
		m.slots[i] = slot[V]{key: s.key, val: s.val, state: slotUsed}
		m.live++
	}
}

// splitmix64 finalizer; sequential ids would otherwise cluster.
func hash(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
