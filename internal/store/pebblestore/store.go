// Package pebblestore implements store.Store on top of an embedded Pebble KV database.
//
// Key layout:
//
//	msg\x00<id>                          -> messageRecord (JSON)
//	conv\x00<lo>\x00<hi>\x00<seq:020d>    -> <id>
//	profile\x00<identity>                -> profileRecord (JSON)
//	meta\x00seq                          -> last assigned sequence number
//
// lo/hi are the two participants sorted, so both directions of a conversation
// share one ordered key range.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"

	"github.com/vovakirdan/wirerelay-server/internal/store"
)

const sep = "\x00"

var seqKey = []byte("meta" + sep + "seq")

// PebbleStore implements store.Store with Pebble.
type PebbleStore struct {
	db *pebble.DB

	// mu serialises read-modify-write cycles and sequence allocation.
	mu  sync.Mutex
	seq uint64
}

type messageRecord struct {
	Seq       uint64          `json:"seq"`
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Body      string          `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
	Delivered bool            `json:"delivered"`
	Read      bool            `json:"read"`
	Reactions []reactionEntry `json:"reactions,omitempty"`
}

type reactionEntry struct {
	Emoji     string    `json:"emoji"`
	By        string    `json:"by"`
	CreatedAt time.Time `json:"created_at"`
}

type profileRecord struct {
	Identity     string     `json:"identity"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"password_hash"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// New opens (or creates) a Pebble database at path.
func New(path string) (*PebbleStore, error) {
	return open(path, &pebble.Options{})
}

// NewInMemory opens a Pebble database backed by an in-memory filesystem.
func NewInMemory() (*PebbleStore, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	s := &PebbleStore{db: db}
	raw, err := s.get(seqKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("load sequence: %w", err)
	default:
		seq, parseErr := strconv.ParseUint(string(raw), 10, 64)
		if parseErr != nil {
			db.Close()
			return nil, fmt.Errorf("parse sequence: %w", parseErr)
		}
		s.seq = seq
	}

	return s, nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func messageKey(id string) []byte {
	return []byte("msg" + sep + id)
}

func profileKey(identity string) []byte {
	return []byte("profile" + sep + identity)
}

func conversationPrefix(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte("conv" + sep + a + sep + b + sep)
}

func conversationKey(a, b string, seq uint64) []byte {
	return append(conversationPrefix(a, b), fmt.Sprintf("%020d", seq)...)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (s *PebbleStore) getMessage(id string) (*messageRecord, error) {
	raw, err := s.get(messageKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	var rec messageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &rec, nil
}

func (rec *messageRecord) toMessage() *store.Message {
	msg := &store.Message{
		ID:        rec.ID,
		From:      rec.From,
		To:        rec.To,
		Body:      rec.Body,
		CreatedAt: rec.CreatedAt,
		Delivered: rec.Delivered,
		Read:      rec.Read,
	}
	for _, r := range rec.Reactions {
		msg.Reactions = append(msg.Reactions, store.Reaction{Emoji: r.Emoji, By: r.By, CreatedAt: r.CreatedAt})
	}
	return msg
}

// ==== MessageStore implementation ====

// CreateMessage persists a new message and indexes it under its conversation.
func (s *PebbleStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seq + 1
	rec := messageRecord{
		Seq:       seq,
		ID:        uuid.NewString(),
		From:      msg.From,
		To:        msg.To,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt.UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(messageKey(rec.ID), data, nil); err != nil {
		return fmt.Errorf("set message: %w", err)
	}
	if err := batch.Set(conversationKey(rec.From, rec.To, seq), []byte(rec.ID), nil); err != nil {
		return fmt.Errorf("set conversation index: %w", err)
	}
	if err := batch.Set(seqKey, []byte(strconv.FormatUint(seq, 10)), nil); err != nil {
		return fmt.Errorf("set sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}

	s.seq = seq
	msg.ID = rec.ID
	msg.Delivered = false
	msg.Read = false
	msg.Reactions = nil
	return nil
}

// GetMessage retrieves a message by ID.
func (s *PebbleStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.getMessage(id)
	if err != nil {
		return nil, err
	}
	return rec.toMessage(), nil
}

// UpdateMessage raises delivery flags and appends reactions.
func (s *PebbleStore) UpdateMessage(ctx context.Context, id string, update store.MessageUpdate) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getMessage(id)
	if err != nil {
		return nil, err
	}

	msg := rec.toMessage()
	update.Apply(msg)
	rec.Delivered = msg.Delivered
	rec.Read = msg.Read
	if r := update.AddReaction; r != nil {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		rec.Reactions = append(rec.Reactions, reactionEntry{Emoji: r.Emoji, By: r.By, CreatedAt: createdAt.UTC()})
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if err := s.db.Set(messageKey(id), data, pebble.Sync); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	return rec.toMessage(), nil
}

// DeleteMessage removes a message and its conversation index entry.
func (s *PebbleStore) DeleteMessage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getMessage(id)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(messageKey(id), nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if err := batch.Delete(conversationKey(rec.From, rec.To, rec.Seq), nil); err != nil {
		return fmt.Errorf("delete conversation index: %w", err)
	}
	return batch.Commit(pebble.Sync)
}

// ListConversation returns messages between a and b, newest first.
func (s *PebbleStore) ListConversation(ctx context.Context, a, b string, limit int, beforeID string) ([]*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	prefix := conversationPrefix(a, b)
	upper := prefixEnd(prefix)
	if beforeID != "" {
		before, err := s.getMessage(beforeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		upper = conversationKey(a, b, before.Seq)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	var messages []*store.Message
	for valid := iter.Last(); valid && len(messages) < limit; valid = iter.Prev() {
		rec, err := s.getMessage(string(iter.Value()))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		messages = append(messages, rec.toMessage())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate conversation: %w", err)
	}

	return messages, nil
}

// ==== ProfileStore implementation ====

// CreateProfile creates a new profile. Existing identities are rejected.
func (s *PebbleStore) CreateProfile(ctx context.Context, identity, displayName, passwordHash string) (*store.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(profileKey(identity)); err == nil {
		return nil, fmt.Errorf("insert profile: identity %s already exists", identity)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	rec := profileRecord{
		Identity:     identity,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.putProfile(&rec); err != nil {
		return nil, err
	}
	return rec.toProfile(), nil
}

// GetProfile retrieves a profile by identity.
func (s *PebbleStore) GetProfile(ctx context.Context, identity string) (*store.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.getProfile(identity)
	if err != nil {
		return nil, err
	}
	return rec.toProfile(), nil
}

// UpdateLastSeen records the last-seen time of a profile.
func (s *PebbleStore) UpdateLastSeen(ctx context.Context, identity string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getProfile(identity)
	if err != nil {
		return err
	}
	at = at.UTC()
	rec.LastSeen = &at
	return s.putProfile(rec)
}

func (s *PebbleStore) getProfile(identity string) (*profileRecord, error) {
	raw, err := s.get(profileKey(identity))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("profile %s: %w", identity, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var rec profileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &rec, nil
}

func (s *PebbleStore) putProfile(rec *profileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.db.Set(profileKey(rec.Identity), data, pebble.Sync); err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	return nil
}

func (rec *profileRecord) toProfile() *store.Profile {
	return &store.Profile{
		Identity:     rec.Identity,
		DisplayName:  rec.DisplayName,
		PasswordHash: rec.PasswordHash,
		LastSeen:     rec.LastSeen,
		CreatedAt:    rec.CreatedAt,
	}
}
