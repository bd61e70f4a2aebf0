// Package redis keeps spill frames in Redis, outside the process heap.
//
// It is a memory tier only. A provider serves the frames it wrote itself and
// deletes them on Close; frames left by another client or an earlier process
// are never read, even under the same namespace.
package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/querysync/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

const (
	defaultNamespace = "querysync"
	defaultTTL       = 10 * time.Minute
	// keys deleted per UNLINK on Close
	closeBatch = 512
)

type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool

	mu     sync.Mutex
	keys   map[string]struct{} // redis keys written and not deleted yet
	closed bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Namespace prefixes every redis key: "<ns>:<spill key>". "" => "querysync".
	Namespace   string
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	return &Redis{
		rdb:         cfg.Client,
		prefix:      ns + ":",
		closeClient: cfg.CloseClient,
		keys:        make(map[string]struct{}),
	}, nil
}

func (p *Redis) owns(rk string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[rk]
	return ok
}

// Get misses without a round trip for keys this provider did not write.
func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rk := p.prefix + key
	if !p.owns(rk) {
		return nil, false, nil
	}
	b, err := p.rdb.Get(ctx, rk).Bytes()
	if errors.Is(err, goredis.Nil) {
		// expired in redis
		p.forget(rk)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set always stores with an expiry; a non-positive ttl gets the default.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	rk := p.prefix + key
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, nil
	}
	p.keys[rk] = struct{}{}
	p.mu.Unlock()

	if err := p.rdb.Set(ctx, rk, value, ttl).Err(); err != nil {
		p.forget(rk)
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	rk := p.prefix + key
	p.forget(rk)
	return p.rdb.Del(ctx, rk).Err()
}

func (p *Redis) forget(rk string) {
	p.mu.Lock()
	delete(p.keys, rk)
	p.mu.Unlock()
}

// Len reports how many frames the provider currently tracks.
func (p *Redis) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Close deletes every frame this provider wrote, then releases the redis
// client when the provider owns it. Repeated calls are no-ops.
func (p *Redis) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	keys := make([]string, 0, len(p.keys))
	for k := range p.keys {
		keys = append(keys, k)
	}
	p.keys = make(map[string]struct{})
	p.mu.Unlock()

	var errs []error
	for len(keys) > 0 {
		n := min(len(keys), closeBatch)
		if err := p.rdb.Unlink(ctx, keys[:n]...).Err(); err != nil {
			errs = append(errs, err)
			break
		}
		keys = keys[n:]
	}
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
