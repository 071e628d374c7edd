package storecache

import (
	"context"
)

// GetBatch resolves many keys with at most one call to fetch.
//
// keys are deduplicated (first occurrence wins the position). Live entries
// are served from the cache; the rest are passed to fetch in one call, and
// each returned record is cached on its own so later single-key Gets hit.
// Keys fetch did not return are left out of the map and listed in missing;
// that is not an error. A fetch error fails the whole call and nothing from
// it is cached. A key some concurrent Get or GetBatch is already reading is
// waited on instead of being sent to fetch again.
func (c *Cache[T]) GetBatch(ctx context.Context, keys []string, fetch BatchFetchFunc[T]) (found map[string]T, missing []string, err error) {
	uniq := dedupe(keys)
	found = make(map[string]T, len(uniq))

	var uncached []string
	for _, k := range uniq {
		v, ok, err := c.cached(ctx, k)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			found[k] = v
			c.s.hooks.Hit(c.dt)
			c.s.stats.of(c.dt).hits.Inc()
			continue
		}
		c.s.hooks.Miss(c.dt)
		c.s.stats.of(c.dt).misses.Inc()
		uncached = append(uncached, k)
	}
	if len(uncached) == 0 {
		return found, nil, nil
	}

	raws, shared, err := c.s.fetchBatchOnce(ctx, c.dt, uncached, func(ctx context.Context, keys []string) (map[string][]byte, error) {
		got, err := fetch(ctx, keys)
		if err != nil {
			return nil, err
		}
		out := make(map[string][]byte, len(got))
		for k, v := range got {
			raw, err := c.codec.Encode(v)
			if err != nil {
				return nil, &EncodeError{DataType: c.dt, Key: k, Err: err}
			}
			out[k] = raw
		}
		return out, nil
	})
	if shared {
		c.s.hooks.Coalesced(c.dt)
		c.s.stats.of(c.dt).coalesced.Inc()
	}
	if err != nil {
		return nil, nil, err
	}

	for _, k := range uncached {
		raw, ok := raws[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		v, err := c.codec.Decode(raw)
		if err != nil {
			c.s.remove(ctx, c.dt, k)
			return nil, nil, &DecodeError{DataType: c.dt, Key: k, Err: err}
		}
		found[k] = v
	}

	if len(missing) > 0 {
		c.s.hooks.BatchMissing(c.dt, len(missing))
		c.s.log.Warn("batch fetch did not return some keys", Fields{"dataType": c.dt, "missing": missing, "requested": len(uncached)})
	}
	return found, missing, nil
}

// dedupe drops repeated keys and keeps first-seen order.
func dedupe(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
