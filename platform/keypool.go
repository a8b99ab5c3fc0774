package platform

import (
	"errors"
	"sync"
	"time"
)

// ErrNoUsableKey is returned when every key in the pool is cooling down.
var ErrNoUsableKey = errors.New("no usable api key: all keys exhausted or cooling down")

// KeyPool rotates across a set of API keys for read calls. A key that hits a
// quota or auth failure is benched for a cooldown window; reads move to the
// next key. Safe for concurrent use.
type KeyPool struct {
	mu       sync.Mutex
	keys     []string
	idx      int
	benched  map[string]time.Time
	cooldown time.Duration
	now      func() time.Time // test hook
}

// NewKeyPool creates a pool over the given keys with a default 10 minute
// cooldown for exhausted keys.
func NewKeyPool(keys []string) *KeyPool {
	return &KeyPool{
		keys:     append([]string(nil), keys...),
		benched:  make(map[string]time.Time),
		cooldown: 10 * time.Minute,
		now:      time.Now,
	}
}

// Size returns the number of keys in the pool.
func (p *KeyPool) Size() int { return len(p.keys) }

// Current returns the first usable key starting at the rotation index.
func (p *KeyPool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", ErrNoUsableKey
	}
	for i := 0; i < len(p.keys); i++ {
		key := p.keys[(p.idx+i)%len(p.keys)]
		until, ok := p.benched[key]
		if !ok || p.now().After(until) {
			delete(p.benched, key)
			p.idx = (p.idx + i) % len(p.keys)
			return key, nil
		}
	}
	return "", ErrNoUsableKey
}

// MarkExhausted benches the key for the cooldown window and advances the
// rotation index past it.
func (p *KeyPool) MarkExhausted(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.benched[key] = p.now().Add(p.cooldown)
	for i, k := range p.keys {
		if k == key {
			p.idx = (i + 1) % len(p.keys)
			break
		}
	}
}
