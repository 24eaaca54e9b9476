// Package rqlcache memoizes built rql statements. Query strings repeat
// heavily in practice (dashboards and pollers send the same filter over and
// over), so the parse and classification work is kept behind an LRU keyed by
// the normalized parameter set.
package rqlcache

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lodeworks/lode/pkg/observability"
	"github.com/lodeworks/lode/pkg/rql"
)

// Cache is a fixed-size LRU of built statements.
type Cache struct {
	lru     *lru.Cache[string, rql.Stmt]
	metrics *observability.Metrics
}

// New creates a cache holding up to size statements.
func New(size int) (*Cache, error) {
	inner, err := lru.New[string, rql.Stmt](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner}, nil
}

// WithMetrics attaches hit/miss instrumentation.
func (c *Cache) WithMetrics(m *observability.Metrics) *Cache {
	c.metrics = m
	return c
}

// Stmt returns the statement for params, building and caching it on a miss.
// Callers receive a private deep copy: paging caps applied downstream must
// not leak back into the cache, and filters appended by one request (the
// rest action's entity-key scoping) must never land in the backing arrays a
// concurrent request reads through.
func (c *Cache) Stmt(params map[string]string) (*rql.Stmt, error) {
	key := Normalize(params)

	if cached, ok := c.lru.Get(key); ok {
		if c.metrics != nil {
			c.metrics.StmtCacheHitsTotal.Inc()
		}
		return cached.Clone(), nil
	}

	if c.metrics != nil {
		c.metrics.StmtCacheMissTotal.Inc()
	}
	stmt, err := rql.BuildStmt(params)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RQLParseErrorsTotal.Inc()
		}
		return nil, err
	}
	c.lru.Add(key, *stmt)

	return stmt.Clone(), nil
}

// Len reports the number of cached statements.
func (c *Cache) Len() int { return c.lru.Len() }

// Normalize renders params as a canonical cache key: lower-cased keys sorted
// lexically, joined as key=value pairs.
func Normalize(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, strings.ToLower(k)+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}
