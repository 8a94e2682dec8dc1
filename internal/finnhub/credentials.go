package finnhub

import "errors"

// ErrNoCredentials is returned when no API key was supplied.
var ErrNoCredentials = errors.New("no finnhub API key configured")

// CredentialPool hands out interchangeable API keys round-robin. The cursor
// lives for one process; it is not safe for concurrent use, callers fetch
// sequentially.
type CredentialPool struct {
	keys   []string
	cursor int
}

// NewCredentialPool keeps the non-empty, distinct keys in their given order.
func NewCredentialPool(keys []string) (*CredentialPool, error) {
	seen := make(map[string]bool, len(keys))
	var kept []string
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, k)
	}
	if len(kept) == 0 {
		return nil, ErrNoCredentials
	}
	return &CredentialPool{keys: kept}, nil
}

// Next returns the key under the cursor and advances it.
func (p *CredentialPool) Next() string {
	k := p.keys[p.cursor%len(p.keys)]
	p.cursor++
	return k
}

// Len returns the number of keys.
func (p *CredentialPool) Len() int {
	return len(p.keys)
}
