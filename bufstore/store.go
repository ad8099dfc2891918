// Package bufstore keeps the most recent buffer produced under each key
// (camera frames, depth maps, sensor blobs) and serves them to a remote
// controller through "get:<key>" requests.
//
// Producers and the connection goroutine run concurrently; the store lock
// is held only while copying buffers in or out, never during I/O.
package bufstore

import (
	"slices"
	"strings"
	"sync"

	"github.com/Zereker/throw"
)

// Reply commands.
const (
	StatusOK             = "ok"
	StatusKeyNotFound    = "key_not_found"
	StatusUnknownCommand = "unknown_command"
	StatusInvalidCommand = "invalid_command"
)

// ActionGet is the only action a request may carry.
const ActionGet = "get"

// Store maps keys to their latest buffer.
type Store struct {
	mu      sync.Mutex
	buffers map[string][]byte
}

// New returns an empty store.
func New() *Store {
	return &Store{buffers: make(map[string][]byte)}
}

// Put stores a copy of buf under key, replacing the previous one.
func (s *Store) Put(key string, buf []byte) {
	cp := slices.Clone(buf)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[key] = cp
}

// Replace swaps in a whole new set of buffers, as a capture system does at
// the end of each frame. The map is copied.
func (s *Store) Replace(buffers map[string][]byte) {
	next := make(map[string][]byte, len(buffers))
	for k, v := range buffers {
		next[k] = slices.Clone(v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = next
}

// Get returns a copy of the buffer under key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	buf, ok := s.buffers[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return slices.Clone(buf), true
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.buffers))
	for k := range s.buffers {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// Handler returns an active callback answering "get:<key>" requests. The
// request payload is ignored, so any element type may be used for it.
func Handler[Req throw.Element](s *Store) throw.ActiveCallback[Req, byte] {
	return func(request throw.Message[Req]) (throw.Message[byte], error) {
		return s.reply(request.Header.Command), nil
	}
}

func (s *Store) reply(command string) throw.Message[byte] {
	action, key, ok := parseCommand(command)
	switch {
	case !ok:
		return status(StatusInvalidCommand)
	case action != ActionGet:
		return status(StatusUnknownCommand)
	}

	buf, found := s.Get(key)
	if !found {
		return status(StatusKeyNotFound)
	}
	return throw.NewMessage(StatusOK, 1, 1, len(buf), buf)
}

// parseCommand splits "<action>:<argument>". Exactly one separator is
// allowed.
func parseCommand(command string) (action, argument string, ok bool) {
	parts := strings.Split(strings.TrimSpace(command), ":")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// status returns a payload-less reply with an all-zero shape.
func status(command string) throw.Message[byte] {
	return throw.Message[byte]{
		Header: throw.NewHeader(command, 0, 0, 0, 0),
		Data:   []byte{},
	}
}
