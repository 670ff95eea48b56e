package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/guard"
)

// RedisAttributeStore keeps attribute records as JSON strings in Redis
// (key: attr:{scope}:{workstream}:{subjectID}). Suited to deployments where
// attribute administration and checking run in separate processes.
type RedisAttributeStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "attr:%s:%s:%s"
	ttl    time.Duration
}

func NewRedisAttributeStore(client *redis.Client) *RedisAttributeStore {
	return &RedisAttributeStore{client: client, keyFmt: "attr:%s:%s:%s"}
}

// WithTTL makes saved records expire; zero keeps them forever.
func (r *RedisAttributeStore) WithTTL(ttl time.Duration) *RedisAttributeStore {
	r.ttl = ttl
	return r
}

func (r *RedisAttributeStore) key(scope guard.AttributeScope, workstream, subjectID string) string {
	return fmt.Sprintf(r.keyFmt, scope, workstream, subjectID)
}

func (r *RedisAttributeStore) SaveAttributes(ctx context.Context, rec *guard.AttributeRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(rec.Scope, rec.Workstream, rec.SubjectID), string(b), r.ttl).Err()
}

func (r *RedisAttributeStore) DeleteAttributes(ctx context.Context, scope guard.AttributeScope, subjectID, workstream string) error {
	return r.client.Del(ctx, r.key(scope, workstream, subjectID)).Err()
}

func (r *RedisAttributeStore) GetUserAttributes(ctx context.Context, userID, workstream string) (*guard.AttributeRecord, error) {
	recs, err := r.batch(ctx, guard.ScopeUser, []string{userID}, workstream)
	if err != nil {
		return nil, err
	}
	return recs[userID], nil
}

func (r *RedisAttributeStore) GetGroupAttributes(ctx context.Context, groupIDs []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	return r.batch(ctx, guard.ScopeGroup, groupIDs, workstream)
}

func (r *RedisAttributeStore) GetRoleAttributes(ctx context.Context, roleIDs []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	return r.batch(ctx, guard.ScopeRole, roleIDs, workstream)
}

// batch fetches one scope's records with a single MGET. Missing keys are
// simply absent from the result map.
func (r *RedisAttributeStore) batch(ctx context.Context, scope guard.AttributeScope, ids []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	out := make(map[string]*guard.AttributeRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(scope, workstream, id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec guard.AttributeRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode attribute record %s: %w", keys[i], err)
		}
		out[ids[i]] = &rec
	}
	return out, nil
}
