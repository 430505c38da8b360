package stub

import (
	"fmt"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// This file implements pre-parse admission control using token bucket
// rate limiting, applied before a query ever reaches the dispatcher.
//
// Rate limiting is applied at three levels:
//   - Global: overall listener-wide query rate limit
//   - Prefix: per network prefix limit (/24 for IPv4, /64 for IPv6)
//   - IP: per source IP limit
//
// All limits use the token bucket algorithm, which allows short bursts
// while enforcing an average rate over time.

// RateLimiter combines global, prefix, and per-IP rate limiters. A
// request must pass all three levels to be allowed.
type RateLimiter struct {
	global *TokenBucketRateLimiter
	prefix *TokenBucketRateLimiter
	ip     *TokenBucketRateLimiter
}

// NewRateLimiterFromEnv creates a RateLimiter configured via environment
// variables.
//
// Environment variables:
//   - STUBRESOLVE_RL_CLEANUP_SECONDS: stale entry cleanup interval (default: 60)
//   - STUBRESOLVE_RL_MAX_IP_ENTRIES: max tracked IPs (default: 65536)
//   - STUBRESOLVE_RL_MAX_PREFIX_ENTRIES: max tracked prefixes (default: 16384)
//   - STUBRESOLVE_RL_GLOBAL_QPS / _BURST: global rate (default: 100000/100000)
//   - STUBRESOLVE_RL_PREFIX_QPS / _BURST: per-prefix rate (default: 10000/20000)
//   - STUBRESOLVE_RL_IP_QPS / _BURST: per-IP rate (default: 3000/6000)
func NewRateLimiterFromEnv() *RateLimiter {
	cleanupSeconds := envFloat("STUBRESOLVE_RL_CLEANUP_SECONDS", 60.0)
	maxIP := envInt("STUBRESOLVE_RL_MAX_IP_ENTRIES", 65_536)
	maxPrefix := envInt("STUBRESOLVE_RL_MAX_PREFIX_ENTRIES", 16_384)

	globalQPS := envFloat("STUBRESOLVE_RL_GLOBAL_QPS", 100_000.0)
	globalBurst := envInt("STUBRESOLVE_RL_GLOBAL_BURST", 100_000)
	prefixQPS := envFloat("STUBRESOLVE_RL_PREFIX_QPS", 10_000.0)
	prefixBurst := envInt("STUBRESOLVE_RL_PREFIX_BURST", 20_000)
	ipQPS := envFloat("STUBRESOLVE_RL_IP_QPS", 3_000)
	ipBurst := envInt("STUBRESOLVE_RL_IP_BURST", 6_000)

	cleanupInterval := time.Duration(math.Max(0.0, cleanupSeconds) * float64(time.Second))
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}

	return &RateLimiter{
		global: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: globalQPS, Burst: globalBurst, CleanupInterval: cleanupInterval, MaxEntries: 1}),
		prefix: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: prefixQPS, Burst: prefixBurst, CleanupInterval: cleanupInterval, MaxEntries: maxPrefix}),
		ip:     NewTokenBucketRateLimiter(TokenBucketConfig{Rate: ipQPS, Burst: ipBurst, CleanupInterval: cleanupInterval, MaxEntries: maxIP}),
	}
}

// RateLimitSettings mirrors config.RateLimitConfig without importing
// the config package, so this package stays usable standalone.
type RateLimitSettings struct {
	CleanupSeconds   float64
	MaxIPEntries     int
	MaxPrefixEntries int
	GlobalQPS        float64
	GlobalBurst      int
	PrefixQPS        float64
	PrefixBurst      int
	IPQPS            float64
	IPBurst          int
}

// NewRateLimiter builds a RateLimiter from already-loaded settings
// (typically config.Config.RateLimit), bypassing environment lookups.
func NewRateLimiter(s RateLimitSettings) *RateLimiter {
	cleanupInterval := time.Duration(math.Max(0.0, s.CleanupSeconds) * float64(time.Second))
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}
	maxIP := s.MaxIPEntries
	if maxIP <= 0 {
		maxIP = 65_536
	}
	maxPrefix := s.MaxPrefixEntries
	if maxPrefix <= 0 {
		maxPrefix = 16_384
	}

	return &RateLimiter{
		global: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: s.GlobalQPS, Burst: s.GlobalBurst, CleanupInterval: cleanupInterval, MaxEntries: 1}),
		prefix: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: s.PrefixQPS, Burst: s.PrefixBurst, CleanupInterval: cleanupInterval, MaxEntries: maxPrefix}),
		ip:     NewTokenBucketRateLimiter(TokenBucketConfig{Rate: s.IPQPS, Burst: s.IPBurst, CleanupInterval: cleanupInterval, MaxEntries: maxIP}),
	}
}

// AllowAddr checks if a request from the given netip.Addr should be
// allowed. Checks global, then prefix, then IP, failing fast.
func (r *RateLimiter) AllowAddr(ip netip.Addr) bool {
	if r == nil {
		return true
	}
	if !r.global.Allow("*") {
		return false
	}
	if !r.prefix.Allow(prefixKeyFromAddr(ip)) {
		return false
	}
	return r.ip.Allow(ip.String())
}

func prefixKeyFromAddr(ip netip.Addr) string {
	if ip.Is4() {
		prefix, _ := ip.Prefix(24)
		return prefix.String()
	}
	prefix, _ := ip.Prefix(64)
	return prefix.String()
}

// RateLimitsStartupLog returns a human-readable summary of rate limit
// configuration, suitable for a single startup log line.
func RateLimitsStartupLog() string {
	cleanupSeconds := envFloat("STUBRESOLVE_RL_CLEANUP_SECONDS", 60.0)
	maxIP := envInt("STUBRESOLVE_RL_MAX_IP_ENTRIES", 65_536)
	maxPrefix := envInt("STUBRESOLVE_RL_MAX_PREFIX_ENTRIES", 16_384)

	globalQPS := envFloat("STUBRESOLVE_RL_GLOBAL_QPS", 100_000.0)
	globalBurst := envInt("STUBRESOLVE_RL_GLOBAL_BURST", 100_000)
	prefixQPS := envFloat("STUBRESOLVE_RL_PREFIX_QPS", 10_000.0)
	prefixBurst := envInt("STUBRESOLVE_RL_PREFIX_BURST", 20_000)
	ipQPS := envFloat("STUBRESOLVE_RL_IP_QPS", 3_000.0)
	ipBurst := envInt("STUBRESOLVE_RL_IP_BURST", 6_000)

	fmtLimiter := func(name string, rate float64, burst int) string {
		if rate <= 0.0 || burst <= 0 {
			return name + "=disabled"
		}
		return fmt.Sprintf("%s=%gqps/%d", name, rate, burst)
	}

	return fmt.Sprintf(
		"%s %s %s cleanup_s=%g max_ip=%d max_prefix=%d",
		fmtLimiter("global", globalQPS, globalBurst),
		fmtLimiter("prefix", prefixQPS, prefixBurst),
		fmtLimiter("ip", ipQPS, ipBurst),
		cleanupSeconds,
		maxIP,
		maxPrefix,
	)
}

// TokenBucketConfig configures a token bucket rate limiter.
type TokenBucketConfig struct {
	Rate            float64
	Burst           int
	CleanupInterval time.Duration
	MaxEntries      int
}

// TokenBucketRateLimiter implements the token bucket algorithm: each key
// has a bucket replenished at Rate tokens/second up to Burst capacity,
// and each request consumes one token.
type TokenBucketRateLimiter struct {
	rate            float64
	burst           float64
	cleanupInterval time.Duration
	maxEntries      int

	mu          sync.Mutex
	lastCleanup time.Time
	lastUpdate  map[string]time.Time
	tokens      map[string]float64
}

// NewTokenBucketRateLimiter creates a new rate limiter with the given
// configuration.
func NewTokenBucketRateLimiter(cfg TokenBucketConfig) *TokenBucketRateLimiter {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1
	}
	ci := cfg.CleanupInterval
	if ci <= 0 {
		ci = 60 * time.Second
	}
	return &TokenBucketRateLimiter{
		rate:            cfg.Rate,
		burst:           float64(cfg.Burst),
		cleanupInterval: ci,
		maxEntries:      maxEntries,
		lastCleanup:     time.Now(),
		lastUpdate:      map[string]time.Time{},
		tokens:          map[string]float64{},
	}
}

// Allow checks if a request for the given key should be allowed and, if
// so, consumes a token. Rate limiting is disabled if rate or burst is
// <= 0.
func (l *TokenBucketRateLimiter) Allow(key string) bool {
	if l == nil || l.rate <= 0.0 || l.burst <= 0.0 {
		return true
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		l.cleanupLocked(now)
	}

	last, exists := l.lastUpdate[key]
	if !exists {
		if len(l.lastUpdate) >= l.maxEntries {
			l.cleanupLocked(now)
			if len(l.lastUpdate) >= l.maxEntries {
				return false
			}
		}
		l.lastUpdate[key] = now
		l.tokens[key] = l.burst - 1.0
		return true
	}

	elapsed := now.Sub(last).Seconds()
	l.lastUpdate[key] = now

	tokens := l.tokens[key]
	if elapsed > 0 {
		tokens = math.Min(l.burst, tokens+(elapsed*l.rate))
	}

	if tokens >= 1.0 {
		l.tokens[key] = tokens - 1.0
		return true
	}

	l.tokens[key] = tokens
	return false
}

func (l *TokenBucketRateLimiter) cleanupLocked(now time.Time) {
	staleBefore := now.Add(-l.cleanupInterval)
	for k, last := range l.lastUpdate {
		if !last.After(staleBefore) {
			delete(l.lastUpdate, k)
			delete(l.tokens, k)
		}
	}
	l.lastCleanup = now
}

func envFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
