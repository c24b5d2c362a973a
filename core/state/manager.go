// Package state provides the journaled key-value store every engine executes
// against. Writes are buffered in an overlay above a storage.Database and can
// be reverted together with the events emitted alongside them, which gives
// each engine operation all-or-nothing semantics.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"assetmech/core/events"
	"assetmech/storage"
)

var (
	errEmptyKey      = errors.New("kv: key must not be empty")
	errCommitInFrame = errors.New("state: commit inside an atomic frame")
)

type overlayValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key  string
	prev overlayValue
	had  bool
}

// Manager is the substrate's atomic executor. Atomic and View hand the
// manager to one goroutine at a time; calls from the goroutine that already
// holds it join its frame instead of blocking. KV accessors are unguarded and
// must run inside Atomic or View when the manager is shared.
type Manager struct {
	gate  sync.Mutex
	owner atomic.Uint64

	db      storage.Database
	overlay map[string]overlayValue
	journal []journalEntry
	queued  []events.Event
	depth   int

	sink       events.Emitter
	autoCommit bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink delivers events emitted by successful operations to sink.
func WithSink(sink events.Emitter) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithAutoCommit flushes dirty keys to the database after every successful
// outermost operation.
func WithAutoCommit() Option {
	return func(m *Manager) { m.autoCommit = true }
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		overlay: make(map[string]overlayValue),
		sink:    events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSink replaces the downstream event sink. Passing nil discards events.
func (m *Manager) SetSink(sink events.Emitter) {
	if sink == nil {
		m.sink = events.NoopEmitter{}
		return
	}
	m.sink = sink
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Atomic runs fn as a single all-or-nothing operation. When fn returns an
// error, or panics, every KV write and event produced inside fn is discarded.
// Frames nest: only the outermost successful frame publishes events.
func (m *Manager) Atomic(fn func() error) (err error) {
	if fn == nil {
		return nil
	}
	release := m.acquire()
	defer release()
	journalMark, eventMark := len(m.journal), len(m.queued)
	m.depth++
	defer func() {
		if r := recover(); r != nil {
			m.depth--
			m.revert(journalMark, eventMark)
			panic(r)
		}
	}()
	err = fn()
	m.depth--
	if err != nil {
		m.revert(journalMark, eventMark)
		return err
	}
	if m.depth == 0 {
		return m.finalise()
	}
	return nil
}

// View runs fn with exclusive use of the manager without opening a frame.
// Reads inside fn observe no concurrent writer. Atomic frames opened inside
// fn behave as outermost frames.
func (m *Manager) View(fn func() error) error {
	if fn == nil {
		return nil
	}
	release := m.acquire()
	defer release()
	return fn()
}

// acquire hands the manager to the calling goroutine, blocking while another
// goroutine holds it. Re-entry from the holder is free.
func (m *Manager) acquire() (release func()) {
	id := goroutineID()
	if id != 0 && m.owner.Load() == id {
		return func() {}
	}
	m.gate.Lock()
	m.owner.Store(id)
	return func() {
		m.owner.Store(0)
		m.gate.Unlock()
	}
}

func (m *Manager) revert(journalMark, eventMark int) {
	for i := len(m.journal) - 1; i >= journalMark; i-- {
		entry := m.journal[i]
		if entry.had {
			m.overlay[entry.key] = entry.prev
		} else {
			delete(m.overlay, entry.key)
		}
	}
	m.journal = m.journal[:journalMark]
	for i := eventMark; i < len(m.queued); i++ {
		m.queued[i] = nil
	}
	m.queued = m.queued[:eventMark]
}

func (m *Manager) finalise() error {
	m.journal = m.journal[:0]
	queued := m.queued
	m.queued = nil
	for _, evt := range queued {
		m.sink.Emit(evt)
	}
	if m.autoCommit {
		return m.commit()
	}
	return nil
}

// Emit queues evt until the enclosing outermost frame succeeds. Outside of a
// frame the event is delivered immediately.
func (m *Manager) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	release := m.acquire()
	defer release()
	if m.depth == 0 {
		m.sink.Emit(evt)
		return
	}
	m.queued = append(m.queued, evt)
}

// Commit writes every dirty key to the database in one batch.
func (m *Manager) Commit() error {
	release := m.acquire()
	defer release()
	if m.depth > 0 {
		return errCommitInFrame
	}
	return m.commit()
}

func (m *Manager) commit() error {
	if len(m.overlay) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.overlay))
	for k := range m.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := new(storage.Batch)
	for _, k := range keys {
		v := m.overlay[k]
		if v.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), v.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.overlay = make(map[string]overlayValue)
	return nil
}

// Dirty reports the number of keys awaiting commit.
func (m *Manager) Dirty() int { return len(m.overlay) }

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if v, ok := m.overlay[string(hashed)]; ok {
		if v.deleted {
			return nil, nil
		}
		return v.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(hashed []byte, value []byte, deleted bool) {
	key := string(hashed)
	if m.depth > 0 {
		prev, had := m.overlay[key]
		m.journal = append(m.journal, journalEntry{key: key, prev: prev, had: had})
	}
	m.overlay[key] = overlayValue{value: value, deleted: deleted}
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded, false)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	m.write(kvKey(key), nil, true)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(hashed, encoded, false)
	return nil
}

// KVRemove drops value from the byte slice list stored under key.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	kept := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, kept)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
