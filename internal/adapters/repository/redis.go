package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/okian/raidsync/internal/domain/model"
)

const defaultKeyPrefix = "raidsync:"

// RedisStore keeps msgpack documents in Redis.
//
// Layout:
//
//	summary:<id>               msgpack Summary without uploaders
//	summary:<id>:uploaders     list of msgpack Uploader in arrival order
//	summary:assoc:<digest>     id of the latest summary for an association
//	encounter:<id>             msgpack Encounter
//	encounters:count           finalized encounter counter
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the Redis server at url (redis://host:port/db).
func OpenRedis(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) summaryKey(id string) string   { return s.prefix + "summary:" + id }
func (s *RedisStore) uploadersKey(id string) string { return s.prefix + "summary:" + id + ":uploaders" }
func (s *RedisStore) encounterKey(id string) string { return s.prefix + "encounter:" + id }
func (s *RedisStore) countKey() string              { return s.prefix + "encounters:count" }
func (s *RedisStore) assocKey(a model.Association) string {
	return s.prefix + "summary:assoc:" + a.Digest()
}

// CreateSummary implements Store.
func (s *RedisStore) CreateSummary(ctx context.Context, sum model.Summary) error {
	defer observe("create_summary", time.Now())
	uploaders := sum.Uploaders
	sum.Uploaders = nil
	doc, err := msgpack.Marshal(&sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	encoded := make([]interface{}, 0, len(uploaders))
	for i := range uploaders {
		b, err := msgpack.Marshal(&uploaders[i])
		if err != nil {
			return fmt.Errorf("encode uploader: %w", err)
		}
		encoded = append(encoded, b)
	}

	ok, err := s.client.SetNX(ctx, s.summaryKey(sum.ID), doc, 0).Result()
	if err != nil {
		return fmt.Errorf("create summary %s: %w", sum.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: summary %s", ErrExists, sum.ID)
	}

	// The association index is written last so it never points at a
	// placeholder that was rolled back.
	if len(encoded) > 0 {
		err = s.client.RPush(ctx, s.uploadersKey(sum.ID), encoded...).Err()
	}
	if err == nil {
		err = s.client.Set(ctx, s.assocKey(sum.Association), sum.ID, 0).Err()
	}
	if err != nil {
		return errors.Join(fmt.Errorf("index summary %s: %w", sum.ID, err), s.discardSummary(ctx, sum.ID))
	}
	return nil
}

// discardSummary removes a half-written placeholder so the id can be
// created again.
func (s *RedisStore) discardSummary(ctx context.Context, id string) error {
	err := s.client.Del(context.WithoutCancel(ctx), s.summaryKey(id), s.uploadersKey(id)).Err()
	if err != nil {
		return fmt.Errorf("discard summary %s: %w", id, err)
	}
	return nil
}

// AttributeUploader implements Store.
func (s *RedisStore) AttributeUploader(ctx context.Context, recordID string, u model.Uploader) error {
	defer observe("attribute_uploader", time.Now())
	n, err := s.client.Exists(ctx, s.summaryKey(recordID)).Result()
	if err != nil {
		return fmt.Errorf("lookup summary %s: %w", recordID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
	}
	b, err := msgpack.Marshal(&u)
	if err != nil {
		return fmt.Errorf("encode uploader: %w", err)
	}
	if err := s.client.RPush(ctx, s.uploadersKey(recordID), b).Err(); err != nil {
		return fmt.Errorf("attribute uploader on %s: %w", recordID, err)
	}
	return nil
}

// SetSummaryStatus implements Store.
func (s *RedisStore) SetSummaryStatus(ctx context.Context, recordID string, status model.Status, errText string) error {
	defer observe("set_summary_status", time.Now())
	key := s.summaryKey(recordID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
		}
		if err != nil {
			return fmt.Errorf("load summary %s: %w", recordID, err)
		}
		var sum model.Summary
		if err := msgpack.Unmarshal(raw, &sum); err != nil {
			return fmt.Errorf("decode summary %s: %w", recordID, err)
		}
		sum.Status = status
		sum.Error = errText
		sum.UpdatedAt = time.Now()
		doc, err := msgpack.Marshal(&sum)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, doc, 0)
			return nil
		})
		return err
	}, key)
}

// SaveEncounter implements Store.
func (s *RedisStore) SaveEncounter(ctx context.Context, enc model.Encounter) error {
	defer observe("save_encounter", time.Now())
	doc, err := msgpack.Marshal(&enc)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.encounterKey(enc.ID), doc, 0).Result()
	if err != nil {
		return fmt.Errorf("save encounter %s: %w", enc.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: encounter %s", ErrExists, enc.ID)
	}
	if err := s.client.Incr(ctx, s.countKey()).Err(); err != nil {
		return fmt.Errorf("count encounter %s: %w", enc.ID, err)
	}
	return nil
}

// Summary implements Store.
func (s *RedisStore) Summary(ctx context.Context, recordID string) (model.Summary, error) {
	defer observe("summary", time.Now())
	raw, err := s.client.Get(ctx, s.summaryKey(recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Summary{}, fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
	}
	if err != nil {
		return model.Summary{}, fmt.Errorf("load summary %s: %w", recordID, err)
	}
	var sum model.Summary
	if err := msgpack.Unmarshal(raw, &sum); err != nil {
		return model.Summary{}, fmt.Errorf("decode summary %s: %w", recordID, err)
	}

	items, err := s.client.LRange(ctx, s.uploadersKey(recordID), 0, -1).Result()
	if err != nil {
		return model.Summary{}, fmt.Errorf("load uploaders %s: %w", recordID, err)
	}
	sum.Uploaders = make([]model.Uploader, 0, len(items))
	for _, item := range items {
		var u model.Uploader
		if err := msgpack.Unmarshal([]byte(item), &u); err != nil {
			return model.Summary{}, fmt.Errorf("decode uploader %s: %w", recordID, err)
		}
		sum.Uploaders = append(sum.Uploaders, u)
	}
	return sum, nil
}

// SummaryByAssociation implements Store.
func (s *RedisStore) SummaryByAssociation(ctx context.Context, association model.Association) (model.Summary, error) {
	id, err := s.client.Get(ctx, s.assocKey(association)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Summary{}, fmt.Errorf("%w: association %s", ErrNotFound, association)
	}
	if err != nil {
		return model.Summary{}, fmt.Errorf("lookup association: %w", err)
	}
	sum, err := s.Summary(ctx, id)
	if err != nil {
		return model.Summary{}, err
	}
	// Digest collisions resolve to the wrong association; treat as absent.
	if sum.Association != association {
		return model.Summary{}, fmt.Errorf("%w: association %s", ErrNotFound, association)
	}
	return sum, nil
}

// Encounter implements Store.
func (s *RedisStore) Encounter(ctx context.Context, recordID string) (model.Encounter, error) {
	defer observe("encounter", time.Now())
	raw, err := s.client.Get(ctx, s.encounterKey(recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Encounter{}, fmt.Errorf("%w: encounter %s", ErrNotFound, recordID)
	}
	if err != nil {
		return model.Encounter{}, fmt.Errorf("load encounter %s: %w", recordID, err)
	}
	var enc model.Encounter
	if err := msgpack.Unmarshal(raw, &enc); err != nil {
		return model.Encounter{}, fmt.Errorf("decode encounter %s: %w", recordID, err)
	}
	return enc, nil
}

// CountEncounters implements Store.
func (s *RedisStore) CountEncounters(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, s.countKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count encounters: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse encounter count %q: %w", v, err)
	}
	return n, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
