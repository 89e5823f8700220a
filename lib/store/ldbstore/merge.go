package ldbstore

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb/iterator"
)

// --------------------------------------------------------------------------
// Layered view
// --------------------------------------------------------------------------

// layer is one level of a merged view. Tagged layers are transaction
// overlays whose values carry a put/delete tag.
type layer struct {
	it     iterator.Iterator
	tagged bool
}

// mergedView combines layers ordered by precedence (index 0 wins).
// Cursor positions are keys, every step re-seeks all layers, so the view
// stays correct while the layers are written to between steps.
type mergedView struct {
	layers []layer
}

type direction int

const (
	forward direction = iota
	backward
)

func (m *mergedView) release() {
	for _, l := range m.layers {
		l.it.Release()
	}
}

func (m *mergedView) err() error {
	for _, l := range m.layers {
		if err := l.it.Error(); err != nil {
			return err
		}
	}
	return nil
}

// value returns the record for key as seen through the view.
// found reports whether any layer mentions key, live whether it is not deleted.
func (m *mergedView) value(key []byte) (value []byte, live bool, found bool) {
	for _, l := range m.layers {
		if !l.it.Seek(key) || !bytes.Equal(l.it.Key(), key) {
			continue
		}
		v := l.it.Value()
		if l.tagged {
			if v[0] == tagDelete {
				return nil, false, true
			}
			v = v[1:]
		}
		return append([]byte(nil), v...), true, true
	}
	return nil, false, false
}

// step returns the next live record in direction dir starting at from.
// A nil from starts at the edge of the view (first or last record).
// With inclusive set, a record at from itself qualifies.
func (m *mergedView) step(from []byte, dir direction, inclusive bool) (key, value []byte, ok bool) {
	current := from
	for {
		var best []byte
		for _, l := range m.layers {
			candidate, found := candidateKey(l.it, current, dir, inclusive)
			if !found {
				continue
			}
			if best == nil ||
				(dir == forward && bytes.Compare(candidate, best) < 0) ||
				(dir == backward && bytes.Compare(candidate, best) > 0) {
				best = candidate
			}
		}
		if best == nil {
			return nil, nil, false
		}

		v, live, _ := m.value(best)
		if live {
			return best, v, true
		}

		// tombstone, continue behind it
		current = best
		inclusive = false
	}
}

// candidateKey returns the closest key of it relative to from in direction dir
func candidateKey(it iterator.Iterator, from []byte, dir direction, inclusive bool) ([]byte, bool) {
	if from == nil {
		if dir == forward {
			return copyKey(it, it.First())
		}
		return copyKey(it, it.Last())
	}

	if dir == forward {
		if !it.Seek(from) {
			return nil, false
		}
		if !inclusive && bytes.Equal(it.Key(), from) {
			return copyKey(it, it.Next())
		}
		return copyKey(it, true)
	}

	// backward: Seek lands on the first key >= from
	if it.Seek(from) {
		if inclusive && bytes.Equal(it.Key(), from) {
			return copyKey(it, true)
		}
		return copyKey(it, it.Prev())
	}
	return copyKey(it, it.Last())
}

func copyKey(it iterator.Iterator, ok bool) ([]byte, bool) {
	if !ok {
		return nil, false
	}
	return append([]byte(nil), it.Key()...), true
}
