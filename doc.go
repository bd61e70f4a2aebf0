// Package querysync is a client-side query cache and sync layer.
//
// Data is addressed by a Key, an ordered list of primitive segments such as
// K("user", 7) or K("users", "infinite", 10). Keys form a prefix hierarchy,
// so K("users") addresses every list under it.
//
// Components:
//   - Store: Key -> Entry map with subscriber tracking, staleness and
//     garbage collection. Every change notifies the key's listeners.
//   - Query coordinator: de-duplicated fetches, staleness checks, retries
//     with capped exponential backoff and per-fetch generation tokens.
//   - Pagination: offset pages (one entry per page) and infinite lists
//     (one entry holding every page in fetch order).
//   - Mutations: plain or optimistic (snapshot, apply, commit or roll back)
//     followed by invalidation of dependent keys.
//   - Invalidation bus: marks entries stale and refetches the observed ones.
//
// Optionally, evicted entries whose config carries a Codec are spilled to a
// byte Provider (ristretto, bigcache, redis) framed with the generation of
// their key prefixes, and restored as stale data when the key is used again.
//
// Typical use:
//
//	c := querysync.New(querysync.Options{StaleTime: time.Minute})
//	defer c.Close(ctx)
//
//	obs := querysync.Observe(c, querysync.QueryConfig[User]{
//	    Key:   querysync.K("user", 1),
//	    Fetch: func(ctx context.Context) (User, error) { return api.User(ctx, 1) },
//	})
//	defer obs.Close()
//	obs.Subscribe(func(s querysync.QueryState[User]) { render(s) })
package querysync
