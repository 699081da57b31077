// Package market serves the dashboard's presentation data: gas tiers, asset
// prices, simulated swap quotes, transaction history and the token list.
//
// Every fetch is best effort. When the live source fails the result falls
// back to demo data and says so in its Source field.
package market

import (
	"math/rand"
	"sync"
	"time"
)

// Source records where a result came from.
type Source string

const (
	// SourceProvider is the connected wallet provider.
	SourceProvider Source = "provider"
	// SourceAPI is a third-party HTTP API.
	SourceAPI Source = "api"
	// SourceBuiltin is data compiled into the binary.
	SourceBuiltin Source = "builtin"
	// SourceSynthetic is generated demo data.
	SourceSynthetic Source = "synthetic"
)

// Live reports whether s is real market data.
func (s Source) Live() bool {
	return s == SourceProvider || s == SourceAPI
}

// lockedRand is a *rand.Rand safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newRand(seed int64) *lockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns a value in [0,1).
func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Intn returns a value in [0,n).
func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Between returns a value in [lo,hi).
func (l *lockedRand) Between(lo, hi float64) float64 {
	return lo + l.Float64()*(hi-lo)
}

func (l *lockedRand) Read(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Read(p)
}
