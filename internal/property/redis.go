package property

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed implementation of Store for deployments where
// several worker processes share one queue. Each property lives in a hash at
// {prefix}:prop:{id}; each status has a sorted set of ids. Entry and terminal
// sets are scored by created_at / completed_at, active sets by claimed_at so
// stale claims can be range-scanned. Claim and resolve run as Lua scripts,
// which Redis executes atomically.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if prefix == "" {
		prefix = "fieldrun"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fieldrun"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) propKey(id string) string {
	return fmt.Sprintf("%s:prop:%s", s.prefix, id)
}

func (s *RedisStore) statusKey(st Status) string {
	return fmt.Sprintf("%s:status:%s", s.prefix, st)
}

func (s *RedisStore) allKey() string {
	return s.prefix + ":all"
}

func (s *RedisStore) Create(ctx context.Context, p *Property) error {
	score := float64(p.CreatedAt.UnixMicro())
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.propKey(p.ID), propToFields(p))
	pipe.ZAdd(ctx, s.statusKey(p.Status), redis.Z{Score: score, Member: p.ID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: p.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create property: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Property, error) {
	fields, err := s.client.HGetAll(ctx, s.propKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get property %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return propFromFields(fields)
}

func (s *RedisStore) List(ctx context.Context, limit, offset int) ([]*Property, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	total, err := s.client.ZCard(ctx, s.allKey()).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("count properties: %w", err)
	}

	// Newest first, matching the SQLite store's ORDER BY created_at DESC.
	ids, err := s.client.ZRevRange(ctx, s.allKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("list properties: %w", err)
	}

	props := make([]*Property, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if p != nil {
			props = append(props, p)
		}
	}
	return props, int(total), nil
}

// claimScript pops the oldest id from the entry set, moves it to the active
// set scored by claim time, and stamps the claim fields on the hash.
var claimScript = redis.NewScript(`
local id = redis.call('ZRANGE', KEYS[1], 0, 0)[1]
if not id then
	return false
end
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[3], id)
redis.call('HSET', ARGV[4] .. id, 'status', ARGV[1], 'claimed_by', ARGV[2], 'claimed_at', ARGV[5])
return id
`)

func (s *RedisStore) ClaimNext(ctx context.Context, kind Kind, workerID string) (*Property, error) {
	now := time.Now().UTC()
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.statusKey(kind.EntryStatus()), s.statusKey(kind.ActiveStatus())},
		string(kind.ActiveStatus()),
		workerID,
		float64(now.UnixMicro()),
		s.prefix+":prop:",
		now.Format(time.RFC3339Nano),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next %s: %w", kind, err)
	}

	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("claim next %s: unexpected script result %T", kind, res)
	}
	return s.Get(ctx, id)
}

// resolveScript moves a property out of its active status. Returns -1 when
// the id is unknown and 0 when the property is no longer active (the
// idempotent no-op case).
//
// KEYS[1] key prefix for status sets. ARGV: id, prop key, scrape target,
// submit target, field name, field value, completed_at for the scrape branch,
// completed_at for the submit branch ('' skips the stamp), clear-claim flag,
// score.
var resolveScript = redis.NewScript(`
local pkey = ARGV[2]
local status = redis.call('HGET', pkey, 'status')
if not status then
	return -1
end
local target
local completed
if status == 'SCRAPING' then
	target = ARGV[3]
	completed = ARGV[7]
elseif status == 'SUBMITTING' then
	target = ARGV[4]
	completed = ARGV[8]
else
	return 0
end
redis.call('ZREM', KEYS[1] .. status, ARGV[1])
redis.call('ZADD', KEYS[1] .. target, ARGV[10], ARGV[1])
redis.call('HSET', pkey, 'status', target, ARGV[5], ARGV[6])
if completed ~= '' then
	redis.call('HSET', pkey, 'completed_at', completed)
end
if ARGV[9] == '1' then
	redis.call('HSET', pkey, 'claimed_by', '', 'claimed_at', '')
end
return 1
`)

func (s *RedisStore) Resolve(ctx context.Context, id string, outcome Outcome) error {
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	var scrapeTarget, submitTarget Status
	var field, value, scrapeCompleted, submitCompleted, clearClaim string

	switch outcome.Kind {
	case OutcomeComplete:
		// READY_FOR_FIELD is not terminal, COMPLETE is: only the submit
		// branch gets a completed_at stamp.
		scrapeTarget, submitTarget = StatusReadyForField, StatusComplete
		field, value = "result", string(outcome.Result)
		scrapeCompleted, submitCompleted = "", stamp
		clearClaim = "0"
	case OutcomeFail:
		scrapeTarget, submitTarget = StatusFailed, StatusFailed
		field, value = "error", outcome.Reason
		scrapeCompleted, submitCompleted = stamp, stamp
		clearClaim = "0"
	case OutcomeRequeue:
		scrapeTarget, submitTarget = StatusPendingScrape, StatusVisited
		field, value = "note", outcome.Reason
		scrapeCompleted, submitCompleted = "", ""
		clearClaim = "1"
	default:
		return fmt.Errorf("unknown outcome kind %q", outcome.Kind)
	}

	res, err := resolveScript.Run(ctx, s.client,
		[]string{s.prefix + ":status:"},
		id,
		s.propKey(id),
		string(scrapeTarget),
		string(submitTarget),
		field,
		value,
		scrapeCompleted,
		submitCompleted,
		clearClaim,
		float64(now.UnixMicro()),
	).Int()
	if err != nil {
		return fmt.Errorf("resolve property %s (%s): %w", id, outcome.Kind, err)
	}
	if res == -1 {
		return ErrNotFound
	}
	return nil
}

// transitionScript moves a property between statuses when the current status
// is one of the allowed sources. Returns -1 unknown, 0 illegal, 1 moved,
// 2 already there.
var transitionScript = redis.NewScript(`
local pkey = ARGV[1]
local status = redis.call('HGET', pkey, 'status')
if not status then
	return -1
end
if status == ARGV[2] then
	return 2
end
local allowed = false
for i = 5, #ARGV do
	if status == ARGV[i] then
		allowed = true
	end
end
if not allowed then
	return 0
end
redis.call('ZREM', KEYS[1] .. status, ARGV[3])
redis.call('ZADD', KEYS[1] .. ARGV[2], ARGV[4], ARGV[3])
redis.call('HSET', pkey, 'status', ARGV[2])
return 1
`)

func (s *RedisStore) Transition(ctx context.Context, id string, to Status) error {
	froms := legalSources(to)
	if len(froms) == 0 {
		return ErrBadTransition
	}

	now := time.Now().UTC()
	args := []any{
		s.propKey(id),
		string(to),
		id,
		float64(now.UnixMicro()),
	}
	for _, f := range froms {
		args = append(args, string(f))
	}

	res, err := transitionScript.Run(ctx, s.client, []string{s.prefix + ":status:"}, args...).Int()
	if err != nil {
		return fmt.Errorf("transition property %s to %s: %w", id, to, err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 2:
		// Already in the target status: idempotent no-op, no restamp.
		return nil
	case 0:
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur.Status, to)
	}

	ts := now.Format(time.RFC3339Nano)
	if to == StatusVisited {
		if err := s.client.HSet(ctx, s.propKey(id), "visited_at", ts).Err(); err != nil {
			return fmt.Errorf("transition property %s: stamp visited_at: %w", id, err)
		}
	}
	if to.IsTerminal() {
		if err := s.client.HSet(ctx, s.propKey(id), "completed_at", ts).Err(); err != nil {
			return fmt.Errorf("transition property %s: stamp completed_at: %w", id, err)
		}
	}
	return nil
}

// reclaimScript moves every member of an active set scored before the cutoff
// back to the entry set and clears claim fields. Returns the reclaimed ids.
var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	local pkey = ARGV[4] .. id
	local created = redis.call('HGET', pkey, 'created_at_score')
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], created or ARGV[1], id)
	redis.call('HSET', pkey, 'status', ARGV[2], 'claimed_by', '', 'claimed_at', '')
end
return ids
`)

func (s *RedisStore) ReclaimStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	for _, kind := range []Kind{KindScrape, KindSubmit} {
		res, err := reclaimScript.Run(ctx, s.client,
			[]string{s.statusKey(kind.ActiveStatus()), s.statusKey(kind.EntryStatus())},
			float64(cutoff.UTC().UnixMicro()),
			string(kind.EntryStatus()),
			string(kind.ActiveStatus()),
			s.prefix+":prop:",
		).StringSlice()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("reclaim stale %s claims: %w", kind, err)
		}
		ids = append(ids, res...)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func (s *RedisStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	max := fmt.Sprintf("%f", float64(before.UTC().UnixMicro()))
	var n int64
	for _, st := range []Status{StatusComplete, StatusFailed} {
		ids, err := s.client.ZRangeByScore(ctx, s.statusKey(st), &redis.ZRangeBy{
			Min: "-inf",
			Max: max,
		}).Result()
		if err != nil {
			return n, fmt.Errorf("scan terminal properties: %w", err)
		}
		if len(ids) == 0 {
			continue
		}
		pipe := s.client.TxPipeline()
		for _, id := range ids {
			pipe.Del(ctx, s.propKey(id))
			pipe.ZRem(ctx, s.statusKey(st), id)
			pipe.ZRem(ctx, s.allKey(), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("delete terminal properties: %w", err)
		}
		n += int64(len(ids))
	}
	return n, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func propToFields(p *Property) map[string]any {
	fields := map[string]any{
		"id":               p.ID,
		"address":          p.Address,
		"status":           string(p.Status),
		"payload":          string(p.Payload),
		"result":           string(p.Result),
		"error":            p.Error,
		"note":             p.Note,
		"claimed_by":       p.ClaimedBy,
		"created_at":       p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"created_at_score": float64(p.CreatedAt.UnixMicro()),
		"claimed_at":       "",
		"visited_at":       "",
		"completed_at":     "",
	}
	if p.ClaimedAt != nil {
		fields["claimed_at"] = p.ClaimedAt.UTC().Format(time.RFC3339Nano)
	}
	if p.VisitedAt != nil {
		fields["visited_at"] = p.VisitedAt.UTC().Format(time.RFC3339Nano)
	}
	if p.CompletedAt != nil {
		fields["completed_at"] = p.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func propFromFields(fields map[string]string) (*Property, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	p := &Property{
		ID:        fields["id"],
		Address:   fields["address"],
		Status:    Status(fields["status"]),
		Error:     fields["error"],
		Note:      fields["note"],
		ClaimedBy: fields["claimed_by"],
		CreatedAt: createdAt,
	}
	if v := fields["payload"]; v != "" {
		p.Payload = []byte(v)
	}
	if v := fields["result"]; v != "" {
		p.Result = []byte(v)
	}
	for field, dst := range map[string]**time.Time{
		"claimed_at":   &p.ClaimedAt,
		"visited_at":   &p.VisitedAt,
		"completed_at": &p.CompletedAt,
	} {
		if v := fields[field]; v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", field, err)
			}
			*dst = &t
		}
	}
	return p, nil
}
