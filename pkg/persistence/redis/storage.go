package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"
)

// Tests live in a hash: "doc" holds the JSON body, "user" the owner and
// "submitted" the flag, so MarkSubmitted never rewrites the document.
const (
	fieldDoc       = "doc"
	fieldUser      = "user"
	fieldSubmitted = "submitted"
)

// markSubmittedScript sets the flag only when the test exists and is owned by ARGV[1].
var markSubmittedScript = redis.NewScript(`
local owner = redis.call("HGET", KEYS[1], "user")
if not owner or owner ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "submitted", "1")
return 1
`)

type testStorage struct {
	rdb  *redis.Client
	keys keyspace
	tz   *time.Location
}

func (s *testStorage) Create(ctx context.Context, t *domain.Test) error {
	id, err := s.rdb.Incr(ctx, s.keys.testSeq()).Result()
	if err != nil {
		return fmt.Errorf("allocate test id: %w", err)
	}
	t.ID = id
	now := time.Now().In(s.tz)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.keys.test(id), fieldDoc, doc, fieldUser, t.UserID, fieldSubmitted, boolField(t.IsSubmitted))
	pipe.ZAdd(ctx, s.keys.userTests(t.UserID), &redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store test %d: %w", id, err)
	}
	return nil
}

func (s *testStorage) Get(ctx context.Context, userID string, id int64) (*domain.Test, error) {
	vals, err := s.rdb.HGetAll(ctx, s.keys.test(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load test %d: %w", id, err)
	}
	return decodeTest(id, userID, vals)
}

func (s *testStorage) List(ctx context.Context, userID string) ([]*domain.Test, error) {
	members, err := s.rdb.ZRevRange(ctx, s.keys.userTests(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, 0, len(members))
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		cmds = append(cmds, pipe.HGetAll(ctx, s.keys.test(id)))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, fmt.Errorf("list tests: %w", err)
		}
	}
	out := make([]*domain.Test, 0, len(cmds))
	for i, cmd := range cmds {
		t, err := decodeTest(ids[i], userID, cmd.Val())
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *testStorage) Update(ctx context.Context, t *domain.Test) error {
	cur, err := s.Get(ctx, t.UserID, t.ID)
	if err != nil {
		return err
	}
	cur.Title = t.Title
	cur.URL = t.URL
	cur.Questions = t.Questions
	cur.UpdatedAt = time.Now().In(s.tz)
	t.UpdatedAt = cur.UpdatedAt

	doc, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.keys.test(t.ID), fieldDoc, doc).Err(); err != nil {
		return fmt.Errorf("update test %d: %w", t.ID, err)
	}
	return nil
}

func (s *testStorage) MarkSubmitted(ctx context.Context, userID string, id int64) error {
	n, err := markSubmittedScript.Run(ctx, s.rdb, []string{s.keys.test(id)}, userID).Int()
	if err != nil {
		return fmt.Errorf("mark test %d submitted: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("test %d: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func decodeTest(id int64, userID string, vals map[string]string) (*domain.Test, error) {
	if len(vals) == 0 || vals[fieldUser] != userID {
		return nil, fmt.Errorf("test %d: %w", id, persistence.ErrNotFound)
	}
	var t domain.Test
	if err := json.Unmarshal([]byte(vals[fieldDoc]), &t); err != nil {
		return nil, fmt.Errorf("decode test %d: %w", id, err)
	}
	t.ID = id
	t.IsSubmitted = vals[fieldSubmitted] == "1"
	return &t, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

type runStorage struct {
	rdb  *redis.Client
	keys keyspace
	tz   *time.Location
}

func (s *runStorage) Save(ctx context.Context, run *domain.TestRun) error {
	id, err := s.rdb.Incr(ctx, s.keys.runSeq()).Result()
	if err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}
	run.ID = id
	if run.SubmittedAt.IsZero() {
		run.SubmittedAt = time.Now().In(s.tz)
	}
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keys.run(id), doc, 0)
	pipe.RPush(ctx, s.keys.jobRuns(run.JobID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store run %d: %w", id, err)
	}
	return nil
}

func (s *runStorage) Get(ctx context.Context, userID string, id int64) (*domain.TestRun, error) {
	raw, err := s.rdb.Get(ctx, s.keys.run(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("run %d: %w", id, persistence.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", id, err)
	}
	return decodeRun(id, userID, raw)
}

func (s *runStorage) ListByJob(ctx context.Context, userID string, jobID string) ([]*domain.TestRun, error) {
	members, err := s.rdb.LRange(ctx, s.keys.jobRuns(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*domain.TestRun, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(members))
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		keys = append(keys, s.keys.run(id))
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		run, err := decodeRun(ids[i], userID, []byte(str))
		if err != nil {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func decodeRun(id int64, userID string, raw []byte) (*domain.TestRun, error) {
	var run domain.TestRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run %d: %w", id, err)
	}
	if run.UserID != userID {
		return nil, fmt.Errorf("run %d: %w", id, persistence.ErrNotFound)
	}
	run.ID = id
	return &run, nil
}
