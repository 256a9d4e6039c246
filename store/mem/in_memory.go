package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/dagflow/store"
)

var (
	_ store.Store = &memStore{}
)

type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
	OpList   Op = "list"
)

// ErrHandler decides whether a call fails. It sees the operation and the
// full key (prefix + key; just the prefix for List).
type ErrHandler func(op Op, key string) error

func NewMemStore() store.Store {
	return &memStore{
		m: make(map[string][]byte),
		// setup no error as default
		mockErrHandler: defaultNoErr,
	}
}

func NewMemStoreWithErrHandler(errHandler ErrHandler) store.Store {
	return &memStore{
		m:              make(map[string][]byte),
		mockErrHandler: errHandler,
	}
}

// FailOn returns an ErrHandler that fails every op of the given kind whose
// key contains substr.
func FailOn(op Op, substr string, err error) ErrHandler {
	return func(o Op, key string) error {
		if o == op && strings.Contains(key, substr) {
			return err
		}
		return nil
	}
}

func defaultNoErr(Op, string) error {
	return nil
}

/**
 * memStore is store implementation based on pure memory, it aims to provide a method for debug & testing
 * NEVER use it in the Production!
 */
type memStore struct {
	mu sync.Mutex

	mockErrHandler ErrHandler

	m map[string][]byte
}

func (m *memStore) String() string {
	keys := make([]string, 0, len(m.m))
	for key := range m.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	s := "\n----------\n"
	for _, key := range keys {
		s += fmt.Sprintf("%s: %d bytes\n", key, len(m.m[key]))
	}
	s += "----------\n"
	return s
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(OpGet, prefix+"|"+key); err != nil {
		return nil, err
	}
	v, exists := m.m[prefix+"|"+key]
	if !exists {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(OpSet, prefix+"|"+key); err != nil {
		return err
	}
	m.m[prefix+"|"+key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(OpRemove, prefix+"|"+key); err != nil {
		return err
	}
	delete(m.m, prefix+"|"+key)
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	m.mu.Lock()
	if err := m.mockErrHandler(OpList, prefix); err != nil {
		m.mu.Unlock()
		return err
	}

	prefix += "|"
	matchedKeys := make([]string, 0)
	for key := range m.m {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		matchedKeys = append(matchedKeys, key)
	}
	m.mu.Unlock()

	sort.Strings(matchedKeys)
	for _, key := range matchedKeys {
		key, _ = strings.CutPrefix(key, prefix)
		if !iterator(key) {
			break
		}
	}
	return nil
}
