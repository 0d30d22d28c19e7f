package secure

import (
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// KeyCache memoizes derived key sets by a fingerprint of the secret, so a
// rotated secret naturally misses and the old entry ages out.
type KeyCache struct {
	cache *lru.Cache
}

func NewKeyCache(size int) (*KeyCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	return &KeyCache{cache: c}, nil
}

// Get returns the key set for secret, deriving and caching it on a miss.
func (kc *KeyCache) Get(secret string) (KeySet, error) {
	fp := sha256.Sum256([]byte(secret))
	if v, ok := kc.cache.Get(fp); ok {
		return v.(KeySet), nil
	}
	ks, err := DeriveKeySet(secret)
	if err != nil {
		return KeySet{}, err
	}
	kc.cache.Add(fp, ks)
	return ks, nil
}

func (kc *KeyCache) Len() int {
	return kc.cache.Len()
}
