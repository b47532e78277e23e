package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DraftStore keeps drafts between requests of an editing session.
type DraftStore interface {
	// Save stores draft if the stored copy is still at draft.Version and
	// returns it with the bumped version.
	Save(ctx context.Context, draft Draft) (Draft, error)
	Load(ctx context.Context, id string) (Draft, error)
	Delete(ctx context.Context, id string) error
}

// RedisDraftStore stores drafts as JSON with a sliding TTL.
type RedisDraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDraftStore constructs the store.
func NewRedisDraftStore(client *redis.Client, ttl time.Duration) *RedisDraftStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDraftStore{client: client, ttl: ttl}
}

func draftKey(id string) string {
	return "orders:draft:" + id
}

// Save writes the draft and refreshes its TTL. The write runs under WATCH so
// a concurrent save between the version check and the SET aborts it.
func (s *RedisDraftStore) Save(ctx context.Context, draft Draft) (Draft, error) {
	expected := draft.Version
	draft.Version++
	raw, err := json.Marshal(draft)
	if err != nil {
		return Draft{}, fmt.Errorf("encode draft: %w", err)
	}

	key := draftKey(draft.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		switch {
		case current < 0 && expected > 0:
			return ErrDraftNotFound
		case current >= 0 && current != expected:
			return fmt.Errorf("%w: stored version %d, edit based on %d", ErrDraftConflict, current, expected)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return draft, nil
	case errors.Is(err, redis.TxFailedErr):
		return Draft{}, fmt.Errorf("%w: draft %s", ErrDraftConflict, draft.ID)
	case errors.Is(err, ErrDraftNotFound), errors.Is(err, ErrDraftConflict):
		return Draft{}, err
	default:
		return Draft{}, fmt.Errorf("save draft: %w", err)
	}
}

// storedVersion returns the version of the stored draft, or -1 when none.
func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return 0, fmt.Errorf("decode draft version: %w", err)
	}
	return head.Version, nil
}

// Load reads a draft, returning ErrDraftNotFound when missing or expired.
func (s *RedisDraftStore) Load(ctx context.Context, id string) (Draft, error) {
	raw, err := s.client.Get(ctx, draftKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Draft{}, ErrDraftNotFound
		}
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}
	var draft Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return Draft{}, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return draft, nil
}

// Delete removes a draft. Deleting a missing draft is not an error.
func (s *RedisDraftStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, draftKey(id)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}
