package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(opType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU
// of recently applied keys, then the event log in Postgres.
// Not thread-safe: only accessed from the deterministic core.
type IdempotencyChecker struct {
	lru       *lru.Cache
	dbChecker DBIdempotencyChecker

	duplicatesLRU      map[string]int64
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("create idempotency lru: %w", err)
	}
	return &IdempotencyChecker{
		lru:                cache,
		dbChecker:          dbChecker,
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}, nil
}

func compositeKey(opType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", opType, idempotencyKey)
}

// IsDuplicate reports whether the op was already processed. The tier
// that caught it is returned for metrics ("" when not a duplicate).
func (ic *IdempotencyChecker) IsDuplicate(opType string, idempotencyKey string) (bool, string) {
	key := compositeKey(opType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.duplicatesLRU[opType]++
		return true, "lru"
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(opType, idempotencyKey)
		if err != nil {
			// Treat as new; the event_log primary key rejects a real duplicate at persist time.
			ic.tier2Errors++
			return false, ""
		}
		if isDup {
			ic.duplicatesPostgres[opType]++
			ic.lru.Add(key, struct{}{})
			return true, "postgres"
		}
	}

	return false, ""
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(opType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(opType, idempotencyKey), struct{}{})
}

// Warm loads composite keys (as produced by Keys) into the LRU.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.lru.Add(k, struct{}{})
	}
}

// Keys returns the cached composite keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.lru.Keys()
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, k.(string))
	}
	return out
}

func (ic *IdempotencyChecker) Size() int { return ic.lru.Len() }

func (ic *IdempotencyChecker) Duplicates(opType string) (lru int64, postgres int64) {
	return ic.duplicatesLRU[opType], ic.duplicatesPostgres[opType]
}

func (ic *IdempotencyChecker) Tier2Errors() int64 { return ic.tier2Errors }
