package drain

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// knownSet tracks agents or series that are known to exist in the store.
//
// Workers share one set per sweep. Concurrent first sightings of the same key
// are collapsed into a single create call; the store's insert-if-absent
// semantics cover anything that still slips through.
type knownSet struct {
	m     sync.Map
	group singleflight.Group
}

func newKnownSet(keys ...string) *knownSet {
	k := &knownSet{}
	for _, key := range keys {
		k.m.Store(key, struct{}{})
	}
	return k
}

func (k *knownSet) contains(key string) bool {
	_, ok := k.m.Load(key)
	return ok
}

// ensure calls create once for a key that is not yet known and records the
// key on success.
func (k *knownSet) ensure(key string, create func() error) error {
	if k.contains(key) {
		return nil
	}

	_, err, _ := k.group.Do(key, func() (interface{}, error) {
		if k.contains(key) {
			return nil, nil
		}
		if err := create(); err != nil {
			return nil, err
		}
		k.m.Store(key, struct{}{})
		return nil, nil
	})
	return err
}
