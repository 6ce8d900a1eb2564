// Package membudget provides a memory budget for the tile read path.
//
// The budget bounds the bytes of decoded tile cells held in flight while
// worker goroutines aggregate them: the tile producer reserves a tile's
// decoded size before handing it to the workers and releases it once every
// aggregator has consumed the tile.
package membudget

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arraydb/tileagg/pkg/sysmem"
)

// DefaultBudgetBytes is the fallback budget when system RAM cannot be
// detected. 4 GB is conservative for most systems.
const DefaultBudgetBytes uint64 = 4 * 1024 * 1024 * 1024

// Source indicates how the memory budget was determined.
type Source string

const (
	// SourceAuto50Pct indicates the budget was set to 50% of detected RAM.
	SourceAuto50Pct Source = "auto-50pct"
	// SourceDefault indicates the budget used the fallback default.
	SourceDefault Source = "default"
	// SourceCLI indicates the budget was set via CLI flag.
	SourceCLI Source = "cli"
)

// Budget tracks reserved bytes against a fixed total. Enforcement is soft:
// callers reserve before allocating and release when done.
//
// Budget is safe for concurrent use.
type Budget struct {
	total  uint64
	inUse  atomic.Uint64
	source Source

	// For blocking reservations
	mu   sync.Mutex
	cond *sync.Cond
}

// Config holds configuration for creating a Budget.
type Config struct {
	// TotalBytes is the total memory budget in bytes.
	TotalBytes uint64

	// Source indicates how the budget was determined.
	Source Source
}

// New creates a new Budget with the given configuration.
func New(cfg Config) *Budget {
	b := &Budget{
		total:  cfg.TotalBytes,
		source: cfg.Source,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewFromSystemRAM creates a Budget set to 50% of system RAM.
// If RAM cannot be detected, uses DefaultBudgetBytes.
func NewFromSystemRAM() *Budget {
	result := sysmem.Total()

	var total uint64
	var source Source

	if result.Reliable {
		total = result.TotalBytes / 2
		source = SourceAuto50Pct
	} else {
		total = DefaultBudgetBytes
		source = SourceDefault
	}

	return New(Config{TotalBytes: total, Source: source})
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 {
	return b.total
}

// InUse returns the currently reserved bytes.
func (b *Budget) InUse() uint64 {
	return b.inUse.Load()
}

// Available returns the available bytes (total - inUse).
func (b *Budget) Available() uint64 {
	inUse := b.inUse.Load()
	if inUse >= b.total {
		return 0
	}
	return b.total - inUse
}

// Source returns how the budget was determined.
func (b *Budget) Source() Source {
	return b.source
}

// TryReserve attempts to reserve n bytes without blocking.
// Returns false if the reservation would exceed the budget.
func (b *Budget) TryReserve(n uint64) bool {
	for {
		current := b.inUse.Load()
		newTotal := current + n
		if newTotal > b.total {
			return false
		}
		if b.inUse.CompareAndSwap(current, newTotal) {
			return true
		}
		// CAS failed, retry
	}
}

// Reserve blocks until n bytes can be reserved.
// Returns an error if the reservation is impossible (n > total).
func (b *Budget) Reserve(n uint64) error {
	if n > b.total {
		return fmt.Errorf("reservation of %d bytes exceeds total budget of %d bytes", n, b.total)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.tryReserveLocked(n) {
		b.cond.Wait()
	}
	return nil
}

// ReserveWithTimeout blocks until n bytes can be reserved or the timeout
// expires. Returns true if reserved.
func (b *Budget) ReserveWithTimeout(n uint64, timeout time.Duration) bool {
	if n > b.total {
		return false
	}

	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.tryReserveLocked(n) {
		if time.Now().After(deadline) {
			return false
		}
		// Use a short sleep instead of full wait to check timeout
		b.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		b.mu.Lock()
	}
	return true
}

// tryReserveLocked attempts reservation while holding the lock.
func (b *Budget) tryReserveLocked(n uint64) bool {
	current := b.inUse.Load()
	newTotal := current + n
	if newTotal > b.total {
		return false
	}
	b.inUse.Store(newTotal)
	return true
}

// Release returns n bytes to the available pool.
// Must be called when reserved memory is no longer needed.
func (b *Budget) Release(n uint64) {
	for {
		current := b.inUse.Load()
		if n > current {
			// Prevent underflow - cap at 0
			if b.inUse.CompareAndSwap(current, 0) {
				break
			}
		} else {
			if b.inUse.CompareAndSwap(current, current-n) {
				break
			}
		}
	}

	// Signal waiters that memory was released
	b.cond.Broadcast()
}

// Stats holds a snapshot of budget usage.
type Stats struct {
	TotalBytes     uint64
	InUseBytes     uint64
	AvailableBytes uint64
	Source         Source
	UsagePercent   float64
}

// Stats returns current budget statistics.
func (b *Budget) Stats() Stats {
	inUse := b.inUse.Load()
	available := uint64(0)
	if inUse < b.total {
		available = b.total - inUse
	}
	usagePct := float64(inUse) / float64(b.total) * 100.0
	return Stats{
		TotalBytes:     b.total,
		InUseBytes:     inUse,
		AvailableBytes: available,
		Source:         b.source,
		UsagePercent:   usagePct,
	}
}

// ParseHumanSize parses a human-readable size string (e.g., "4GiB", "512MB").
// Supported suffixes: B, KB, KiB, MB, MiB, GB, GiB, TB, TiB.
func ParseHumanSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size string")
	}

	// Find where the number ends
	numEnd := 0
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			numEnd = i
			break
		}
		numEnd = i + 1
	}

	numStr := s[:numEnd]
	suffix := s[numEnd:]

	var num float64
	if _, err := fmt.Sscanf(numStr, "%f", &num); err != nil {
		return 0, fmt.Errorf("invalid number: %s", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1.0
	case "KB":
		multiplier = 1000
	case "KiB", "K":
		multiplier = 1024
	case "MB":
		multiplier = 1000 * 1000
	case "MiB", "M":
		multiplier = 1024 * 1024
	case "GB":
		multiplier = 1000 * 1000 * 1000
	case "GiB", "G":
		multiplier = 1024 * 1024 * 1024
	case "TB":
		multiplier = 1000 * 1000 * 1000 * 1000
	case "TiB", "T":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown size suffix: %s", suffix)
	}

	return uint64(num * multiplier), nil
}
