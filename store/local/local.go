package local

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/store"
)

var (
	_ store.Store = &localStore{}
)

const tmpPrefix = ".tmp-"

// localStore keeps one file per key under <root>/<escaped prefix>/<escaped key>.
type localStore struct {
	root string
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string) (store.Store, error) {
	if root == "" {
		return nil, errors.NotValidf("empty root dir")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Annotatef(err, "create root %s", root)
	}
	return &localStore{root: root}, nil
}

// escape keeps every name a single path element. Dots are escaped too, so
// "." and ".." stay plain files and no name starts like a temp file.
func escape(name string) string {
	return strings.ReplaceAll(url.PathEscape(name), ".", "%2E")
}

func (l *localStore) dir(prefix string) string {
	return filepath.Join(l.root, escape(prefix))
}

func (l *localStore) path(prefix, key string) string {
	return filepath.Join(l.dir(prefix), escape(key))
}

func (l *localStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	b, err := os.ReadFile(l.path(prefix, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "read prefix=%s, key=%s", prefix, key)
	}
	return b, nil
}

// Set writes through a temp file and a rename so readers never observe a
// half-written value.
func (l *localStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	dir := l.dir(prefix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Annotatef(err, "create dir for prefix=%s", prefix)
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix)
	if err != nil {
		return errors.Annotatef(err, "create temp for prefix=%s, key=%s", prefix, key)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Annotatef(err, "write prefix=%s, key=%s", prefix, key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Annotatef(err, "close prefix=%s, key=%s", prefix, key)
	}
	if err := os.Rename(tmp.Name(), l.path(prefix, key)); err != nil {
		os.Remove(tmp.Name())
		return errors.Annotatef(err, "rename prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (l *localStore) Remove(ctx context.Context, prefix, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	err := os.Remove(l.path(prefix, key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "remove prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (l *localStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	entries, err := os.ReadDir(l.dir(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Annotatef(err, "list prefix=%s", prefix)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			return errors.Annotatef(err, "unescape %s", e.Name())
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}
