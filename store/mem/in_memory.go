package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/riskflow/store"
)

var (
	_ store.Store = &memStore{}
)

func NewMemStore() store.Store {
	return &memStore{
		m: make(map[string]*entry),
		// setup no error as default
		mockErrHandler: defaultNoErr,
	}
}

func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	return &memStore{
		m:              make(map[string]*entry),
		mockErrHandler: errHandler,
	}
}

func defaultNoErr() error {
	return nil
}

type entry struct {
	value []byte
	seq   int64
}

/**
 * memStore is store implementation based on pure memory, it aims to provide a method for debug & testing
 * NEVER use it in the Production!
 */
type memStore struct {
	mu sync.Mutex

	mockErrHandler func() error

	seq int64
	m   map[string]*entry
}

func (m *memStore) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := "\n----------\n"
	for key, e := range m.m {
		s += fmt.Sprintf("%s: %s\n", key, string(e.value))
	}
	s += "----------\n"
	return s
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(); err != nil {
		return nil, err
	}
	e, exists := m.m[prefix+"|"+key]
	if !exists {
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(); err != nil {
		return err
	}
	value = append([]byte(nil), value...)
	if e, exists := m.m[prefix+"|"+key]; exists {
		e.value = value
		return nil
	}
	m.seq++
	m.m[prefix+"|"+key] = &entry{value: value, seq: m.seq}
	return nil
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(); err != nil {
		return err
	}
	delete(m.m, prefix+"|"+key)
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	m.mu.Lock()
	if err := m.mockErrHandler(); err != nil {
		m.mu.Unlock()
		return err
	}

	prefix += "|"
	type matched struct {
		key string
		seq int64
	}
	matchedKeys := make([]matched, 0)
	for key, e := range m.m {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		matchedKeys = append(matchedKeys, matched{key, e.seq})
	}
	m.mu.Unlock()

	sort.Slice(matchedKeys, func(i, j int) bool {
		return matchedKeys[i].seq < matchedKeys[j].seq
	})
	for _, mk := range matchedKeys {
		key, _ := strings.CutPrefix(mk.key, prefix)
		if !iterator(key) {
			break
		}
	}
	return nil
}
