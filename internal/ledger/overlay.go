package ledger

import "sort"

// overlay stages writes on top of a Reader so a transaction can read its own
// writes before anything reaches the backing store.
type overlay struct {
	base    Reader
	writes  map[string][]byte
	deletes map[string]struct{}
}

func newOverlay(base Reader) *overlay {
	return &overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *overlay) Get(key string) ([]byte, error) {
	if v, ok := o.writes[key]; ok {
		return cloneBytes(v), nil
	}
	if _, ok := o.deletes[key]; ok {
		return nil, nil
	}
	return o.base.Get(key)
}

func (o *overlay) Put(key string, value []byte) error {
	delete(o.deletes, key)
	o.writes[key] = cloneBytes(value)
	return nil
}

func (o *overlay) Delete(key string) error {
	delete(o.writes, key)
	o.deletes[key] = struct{}{}
	return nil
}

// flush applies staged writes in key order, deletes first.
func (o *overlay) flush(put func(key string, value []byte) error, del func(key string) error) error {
	for _, key := range sortedKeys(o.deletes) {
		if err := del(key); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(o.writes))
	for key := range o.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := put(key, o.writes[key]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
