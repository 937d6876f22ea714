package sync

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/clouddisk/cloudsync/internal/kvstore"
)

const (
	MappingKey = "sync.mapping"
	CursorKey  = "sync.lastChangeId"
)

// MappingEntry ties a local relative path to a remote node
type MappingEntry struct {
	RemoteID string `json:"nodeId"`
	IsDir    bool   `json:"isDir"`
}

// MappingStore keeps the whole path table under one key. Every call is a read-modify-write.
type MappingStore struct {
	store kvstore.Store
	mu    sync.Mutex
}

func NewMappingStore(store kvstore.Store) *MappingStore {
	return &MappingStore{store: store}
}

func (m *MappingStore) load() (map[string]MappingEntry, error) {
	raw, err := m.store.Get(MappingKey)
	if errors.Is(err, kvstore.ErrKeyNotFound) || (err == nil && len(raw) == 0) {
		return make(map[string]MappingEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}

	table := make(map[string]MappingEntry)
	if err := jsonUnmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if table == nil {
		table = make(map[string]MappingEntry)
	}
	return table, nil
}

func (m *MappingStore) save(table map[string]MappingEntry) error {
	raw, err := jsonMarshal(table)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	if err := m.store.Set(MappingKey, raw); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}
	return nil
}

// Get returns nil when relPath is not mapped
func (m *MappingStore) Get(relPath string) (*MappingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.load()
	if err != nil {
		return nil, err
	}
	entry, ok := table[relPath]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MappingStore) Set(relPath, remoteID string, isDir bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.load()
	if err != nil {
		return err
	}
	table[relPath] = MappingEntry{RemoteID: remoteID, IsDir: isDir}
	return m.save(table)
}

func (m *MappingStore) Delete(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.load()
	if err != nil {
		return err
	}
	if _, ok := table[relPath]; !ok {
		return nil
	}
	delete(table, relPath)
	return m.save(table)
}

// Tree lists relPath and every mapped path beneath it, sorted
func (m *MappingStore) Tree(relPath string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.load()
	if err != nil {
		return nil, err
	}
	return treeKeys(table, relPath), nil
}

// DeleteTree removes relPath and every mapped path beneath it and returns the removed keys
func (m *MappingStore) DeleteTree(relPath string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.load()
	if err != nil {
		return nil, err
	}
	keys := treeKeys(table, relPath)
	if len(keys) == 0 {
		return nil, nil
	}
	for _, k := range keys {
		delete(table, k)
	}
	return keys, m.save(table)
}

// RenameTree moves oldPath and its descendants to newPath, keeping remote ids
func (m *MappingStore) RenameTree(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.load()
	if err != nil {
		return err
	}
	keys := treeKeys(table, oldPath)
	moved := make(map[string]MappingEntry, len(keys))
	for _, k := range keys {
		moved[newPath+strings.TrimPrefix(k, oldPath)] = table[k]
		delete(table, k)
	}
	for k, v := range moved {
		table[k] = v
	}
	return m.save(table)
}

// All returns a copy of the table
func (m *MappingStore) All() (map[string]MappingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func treeKeys(table map[string]MappingEntry, relPath string) []string {
	var keys []string
	prefix := relPath + "/"
	for k := range table {
		if k == relPath || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// CursorStore persists the last applied position of the remote change feed
type CursorStore struct {
	store kvstore.Store
}

func NewCursorStore(store kvstore.Store) *CursorStore {
	return &CursorStore{store: store}
}

// Cursor returns nil when no cursor was ever persisted
func (c *CursorStore) Cursor() (*int64, error) {
	raw, err := c.store.Get(CursorKey)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	v, err := strconv.ParseInt(strings.Trim(s, `"`), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode cursor %q: %w", s, err)
	}
	return &v, nil
}

func (c *CursorStore) SetCursor(v int64) error {
	if err := c.store.Set(CursorKey, []byte(strconv.FormatInt(v, 10))); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}
