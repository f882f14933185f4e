package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/formq/pkg/domain"
)

// Documents are JSON strings; their chunks live in a list per document and
// each test keeps the ids of its documents in upload order.
type documentStorage struct {
	rdb  *redis.Client
	keys keyspace
	tz   *time.Location
}

func (s *documentStorage) Save(ctx context.Context, doc *domain.Document, chunks []string) error {
	id, err := s.rdb.Incr(ctx, s.keys.docSeq()).Result()
	if err != nil {
		return fmt.Errorf("allocate document id: %w", err)
	}
	doc.ID = id
	doc.Chunks = len(chunks)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().In(s.tz)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keys.doc(id), body, 0)
	if len(chunks) > 0 {
		values := make([]interface{}, len(chunks))
		for i, c := range chunks {
			values[i] = c
		}
		pipe.RPush(ctx, s.keys.docChunks(id), values...)
	}
	pipe.RPush(ctx, s.keys.testDocs(doc.TestID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store document %d: %w", id, err)
	}
	return nil
}

func (s *documentStorage) ListByTest(ctx context.Context, userID string, testID int64) ([]*domain.Document, error) {
	members, err := s.rdb.LRange(ctx, s.keys.testDocs(testID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]*domain.Document, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, s.keys.doc(id))
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var doc domain.Document
		if err := json.Unmarshal([]byte(str), &doc); err != nil || doc.UserID != userID {
			continue
		}
		out = append(out, &doc)
	}
	return out, nil
}

func (s *documentStorage) Chunks(ctx context.Context, userID string, testID int64) ([]domain.DocumentChunk, error) {
	docs, err := s.ListByTest(ctx, userID, testID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DocumentChunk, 0)
	if len(docs) == 0 {
		return out, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(docs))
	for i, d := range docs {
		cmds[i] = pipe.LRange(ctx, s.keys.docChunks(d.ID), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	for i, d := range docs {
		for j, text := range cmds[i].Val() {
			out = append(out, domain.DocumentChunk{DocumentID: d.ID, Index: j, Text: text})
		}
	}
	return out, nil
}
