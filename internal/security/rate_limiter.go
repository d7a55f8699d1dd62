// Package security guards the UDP receive path ahead of engine.Feed:
// per-source-IP rate limiting against multicast storms, and source-IP
// validation against the receiving interface's link-local scope. Both
// concerns are host-side and use wall-clock time deliberately — they sit
// outside the engine's deterministic, clock-free core.
package security

import (
	"sync"
	"time"
)

// RateLimitEntry tracks query rate for a single source IP over a
// 1-second window that restarts once more than a second has passed since
// it began.
type RateLimitEntry struct {
	windowStart    time.Time
	cooldownExpiry time.Time
	lastSeen       time.Time
	sourceIP       string
	queryCount     int
}

// RateLimiter bounds how many datagrams per second a single source IP
// may feed into the engine before being dropped for a cooldown period.
type RateLimiter struct {
	threshold     int
	cooldown      time.Duration
	maxEntries    int
	sources       map[string]*RateLimitEntry
	mu            sync.RWMutex
	evictionCount uint64
}

// NewRateLimiter creates a rate limiter allowing up to threshold
// queries/second per source IP, dropping a source for cooldown once
// exceeded, and bounding memory to maxEntries tracked sources.
func NewRateLimiter(threshold int, cooldown time.Duration, maxEntries int) *RateLimiter {
	return &RateLimiter{
		threshold:  threshold,
		cooldown:   cooldown,
		maxEntries: maxEntries,
		sources:    make(map[string]*RateLimitEntry),
	}
}

// Allow reports whether a datagram from sourceIP should be fed to the
// engine, or dropped because the source is in cooldown or just exceeded
// its rate threshold.
func (rl *RateLimiter) Allow(sourceIP string) bool {
	rl.mu.RLock() // nosemgrep: beacon-mutex-defer-unlock
	entry, exists := rl.sources[sourceIP]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		entry, exists = rl.sources[sourceIP]
		if !exists {
			rl.sources[sourceIP] = &RateLimitEntry{
				sourceIP:    sourceIP,
				queryCount:  1,
				windowStart: time.Now(),
				lastSeen:    time.Now(),
			}
			if len(rl.sources) > rl.maxEntries {
				rl.evict()
			}
			return true
		}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	if !entry.cooldownExpiry.IsZero() && now.Before(entry.cooldownExpiry) {
		return false
	}
	if !entry.cooldownExpiry.IsZero() && now.After(entry.cooldownExpiry) {
		entry.queryCount = 1
		entry.windowStart = now
		entry.cooldownExpiry = time.Time{}
		entry.lastSeen = now
		return true
	}

	if now.Sub(entry.windowStart) > 1*time.Second {
		entry.queryCount = 1
		entry.windowStart = now
		entry.cooldownExpiry = time.Time{}
	} else {
		entry.queryCount++
	}
	entry.lastSeen = now

	if entry.queryCount > rl.threshold {
		entry.cooldownExpiry = now.Add(rl.cooldown)
		return false
	}
	return true
}

// evict drops the oldest 10% of tracked sources by lastSeen. Must be
// called while holding rl.mu for writing.
func (rl *RateLimiter) evict() {
	evictCount := rl.maxEntries / 10
	if evictCount == 0 {
		evictCount = 1
	}

	type entryWithTime struct {
		ip       string
		lastSeen time.Time
	}
	entries := make([]entryWithTime, 0, len(rl.sources))
	for ip, entry := range rl.sources {
		entries = append(entries, entryWithTime{ip: ip, lastSeen: entry.lastSeen})
	}

	for i := 0; i < evictCount && i < len(entries); i++ {
		oldestIdx := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].lastSeen.Before(entries[oldestIdx].lastSeen) {
				oldestIdx = j
			}
		}
		entries[i], entries[oldestIdx] = entries[oldestIdx], entries[i]
	}

	evicted := 0
	for i := 0; i < evictCount && i < len(entries); i++ {
		delete(rl.sources, entries[i].ip)
		evicted++
	}
	rl.evictionCount += uint64(evicted)
}

// Cleanup removes sources not seen in the last minute, intended to be
// called periodically (e.g. every 5 minutes) by the host daemon.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	var stale []string
	for ip, entry := range rl.sources {
		if now.Sub(entry.lastSeen) > 1*time.Minute {
			stale = append(stale, ip)
		}
	}
	for _, ip := range stale {
		delete(rl.sources, ip)
	}
}
