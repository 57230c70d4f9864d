package orderbook

// idIndex is a fixed-capacity open-addressing hash table mapping a
// non-zero order id to its *Order, used in place of a builtin Go map so
// that lookups, inserts, and deletes stay allocation-free after
// construction. A builtin map can allocate on bucket growth even when
// pre-sized with make(map[K]V, n), since growth decisions are left to
// the runtime rather than guaranteed by the size hint.
type idIndex struct {
	keys    []uint64
	orders  []*Order
	used    []bool
	tomb    []bool
	mask    uint64
	count   int
}

func newIDIndex(capacity int) *idIndex {
	n := 1
	for n < capacity*2 { // keep load factor <= 0.5 for short probe chains
		n <<= 1
	}
	return &idIndex{
		keys:   make([]uint64, n),
		orders: make([]*Order, n),
		used:   make([]bool, n),
		tomb:   make([]bool, n),
		mask:   uint64(n - 1),
	}
}

func (x *idIndex) hash(key uint64) uint64 {
	key ^= key >> 33
	key *= 0xff51afd7ed558ccd
	key ^= key >> 33
	key *= 0xc4ceb9fe1a85ec53
	key ^= key >> 33
	return key
}

// Put inserts order under key. Returns false if key is already present
// or the table is full.
func (x *idIndex) Put(key uint64, order *Order) bool {
	if _, ok := x.Get(key); ok {
		return false
	}
	h := x.hash(key) & x.mask
	for i := uint64(0); i <= x.mask; i++ {
		slot := (h + i) & x.mask
		if !x.used[slot] || x.tomb[slot] {
			x.keys[slot] = key
			x.orders[slot] = order
			x.used[slot] = true
			x.tomb[slot] = false
			x.count++
			return true
		}
	}
	return false
}

// Get returns the order stored under key, if present.
func (x *idIndex) Get(key uint64) (*Order, bool) {
	h := x.hash(key) & x.mask
	for i := uint64(0); i <= x.mask; i++ {
		slot := (h + i) & x.mask
		if !x.used[slot] {
			return nil, false
		}
		if !x.tomb[slot] && x.keys[slot] == key {
			return x.orders[slot], true
		}
	}
	return nil, false
}

// Delete removes key from the table, returning false if it was absent.
func (x *idIndex) Delete(key uint64) bool {
	h := x.hash(key) & x.mask
	for i := uint64(0); i <= x.mask; i++ {
		slot := (h + i) & x.mask
		if !x.used[slot] {
			return false
		}
		if !x.tomb[slot] && x.keys[slot] == key {
			x.tomb[slot] = true
			x.orders[slot] = nil
			x.count--
			return true
		}
	}
	return false
}

// Count returns the number of live entries.
func (x *idIndex) Count() int {
	return x.count
}

// Reset clears every slot.
func (x *idIndex) Reset() {
	for i := range x.used {
		x.used[i] = false
		x.tomb[i] = false
		x.orders[i] = nil
	}
	x.count = 0
}
