package blockauth

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
)

// maxCachedAddresses bounds the cache since keys come from untrusted tokens.
const maxCachedAddresses = 1024

// addressCache memoizes public key hex -> address derivations for one network.
// Lookups are read-through; callers never observe the cache.
type addressCache struct {
	mu      sync.RWMutex
	net     *chaincfg.Params
	entries map[string]*addressEntry
}

type addressEntry struct {
	address string
	err     error
}

func newAddressCache(net *chaincfg.Params) *addressCache {
	return &addressCache{
		net:     net,
		entries: make(map[string]*addressEntry),
	}
}

// Address returns the P2PKH address for the hex-encoded public key.
func (c *addressCache) Address(publicKeyHex string) (string, error) {
	entry := c.getOrCreate(publicKeyHex)
	return entry.address, entry.err
}

func (c *addressCache) getOrCreate(publicKeyHex string) *addressEntry {
	c.mu.RLock()
	entry, ok := c.entries[publicKeyHex]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok = c.entries[publicKeyHex]; ok {
		return entry
	}

	entry = &addressEntry{}
	key, err := ParsePublicKey(publicKeyHex)
	if err != nil {
		entry.err = err
	} else {
		entry.address, entry.err = key.Address(c.net)
	}
	if len(c.entries) < maxCachedAddresses {
		c.entries[publicKeyHex] = entry
	}
	return entry
}

func (c *addressCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
