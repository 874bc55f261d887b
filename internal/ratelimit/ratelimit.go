// Package ratelimit bounds the request rate of each network origin and
// escalates repeat offenders to temporary bans.
//
// Three tables back the engine: per-(ip, port) request windows, per-IP soft
// bans (each blocking a set of usernames), and per-IP full bans. The window
// table is guarded by the Limiter's mutex; the ban tables live in TTL caches
// so expired entries are dropped lazily on access instead of accumulating
// over long uptimes.
package ratelimit

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Verdict is the outcome of checking one inbound message against the limiter.
type Verdict int

const (
	// Allow means the message may be dispatched.
	Allow Verdict = iota
	// SoftBanned means the origin IP has an active ban covering the
	// session's username. The connection is dropped without a notice.
	SoftBanned
	// FullBanned means the origin IP is banned outright. The caller sends
	// one BAN notice and disconnects.
	FullBanned
	// RateExceeded means this message pushed the origin over its quota.
	// The caller sends the rate limit notice and disconnects.
	RateExceeded
	// Stalled means the client sat idle past the window without its
	// counter advancing. The caller sends the kick notice and disconnects.
	Stalled
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case SoftBanned:
		return "soft-banned"
	case FullBanned:
		return "full-banned"
	case RateExceeded:
		return "rate-exceeded"
	case Stalled:
		return "stalled"
	}
	return "unknown"
}

// Config holds the limiter's tunables, lifted from the rate_limiter config
// section.
type Config struct {
	// Enabled toggles the whole feature; a disabled limiter allows
	// everything unconditionally.
	Enabled bool
	// MaxRequests is the message quota per (ip, port) within one window.
	MaxRequests int
	// TimeWindow is the length of the rolling quota window.
	TimeWindow time.Duration
	// BanDuration is how long soft and full bans last.
	BanDuration time.Duration
}

// window tracks one (ip, port) origin's request count in the current quota
// window, plus the last observation used for stall detection.
type window struct {
	count       int
	windowStart time.Time
	lastCount   int
	lastSeen    time.Time
}

// softBan records the usernames blocked from re-authenticating from one IP.
type softBan struct {
	blocked map[string]struct{}
}

const banSweepInterval = time.Minute

// Limiter implements the rate limiting and ban escalation engine. All methods
// are safe for concurrent use by the session goroutines.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]map[string]*window // ip -> port -> window

	softBans *gocache.Cache // ip -> *softBan
	fullBans *gocache.Cache // ip -> ban time

	// Overridable for tests.
	now func() time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		windows:  make(map[string]map[string]*window),
		softBans: gocache.New(cfg.BanDuration, banSweepInterval),
		fullBans: gocache.New(cfg.BanDuration, banSweepInterval),
		now:      time.Now,
	}
}

// Register creates the rate window for a newly accepted connection.
func (l *Limiter) Register(ip, port string) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windowFor(ip, port)
}

// Remove drops the (ip, port) window when a session ends, and the IP's table
// entry once its last port is gone. Safe to call more than once.
func (l *Limiter) Remove(ip, port string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ports, ok := l.windows[ip]
	if !ok {
		return
	}
	delete(ports, port)
	if len(ports) == 0 {
		delete(l.windows, ip)
	}
}

// Check runs one inbound message through the ban tables and the origin's rate
// window and returns the verdict. username is the session's currently bound
// username; heartbeat marks frames that are exempt from stall detection.
//
// The whole decision runs under one lock so that two connections from the
// same origin cannot race past the threshold between the check and the
// counter update.
func (l *Limiter) Check(ip, port, username string, heartbeat bool) Verdict {
	if !l.cfg.Enabled {
		return Allow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if _, banned := l.fullBans.Get(ip); banned {
		return FullBanned
	}
	if ban, ok := l.softBans.Get(ip); ok {
		if _, blocked := ban.(*softBan).blocked[username]; blocked {
			return SoftBanned
		}
	}

	w := l.windowFor(ip, port)

	if w.count+1 > l.cfg.MaxRequests && now.Sub(w.windowStart) < l.cfg.TimeWindow {
		l.escalate(ip, username)
		return RateExceeded
	}

	if !heartbeat && now.Sub(w.lastSeen) > l.cfg.TimeWindow && w.count == w.lastCount {
		return Stalled
	}

	if now.Sub(w.windowStart) > l.cfg.TimeWindow {
		w.windowStart = now
		w.count = 0
	}
	w.count++
	w.lastCount = w.count
	w.lastSeen = now

	return Allow
}

// escalate decides the punishment for an origin that just went over quota:
// if at least half of the IP's active ports are also at the threshold the
// whole IP is banned, otherwise the offending username is blocked from that
// IP. Caller holds l.mu.
func (l *Limiter) escalate(ip, username string) {
	ports := l.windows[ip]

	over := 0
	for _, w := range ports {
		if w.count+1 > l.cfg.MaxRequests {
			over++
		}
	}

	if len(ports) > 0 && over*2 >= len(ports) {
		l.fullBans.Set(ip, l.now(), gocache.DefaultExpiration)
		return
	}

	l.blockUsername(ip, username)
}

// blockUsername adds username to the IP's soft ban, creating or extending the
// ban as needed. Caller holds l.mu.
func (l *Limiter) blockUsername(ip, username string) {
	ban := &softBan{blocked: map[string]struct{}{username: {}}}
	if existing, ok := l.softBans.Get(ip); ok {
		ban = existing.(*softBan)
		ban.blocked[username] = struct{}{}
	}
	l.softBans.Set(ip, ban, gocache.DefaultExpiration)
}

// FullBanActive reports whether ip currently has a full ban, for rejecting
// connection attempts before they enter the session loop.
func (l *Limiter) FullBanActive(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, banned := l.fullBans.Get(ip)
	return banned
}

// SoftBanActive reports whether ip has any active soft ban, regardless of
// which usernames it covers. Registration attempts from such an IP are
// refused outright.
func (l *Limiter) SoftBanActive(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, banned := l.softBans.Get(ip)
	return banned
}

// SoftBanBlocks reports whether ip has an active soft ban covering username.
// The cache only guards its own table, not the blocked set an entry points
// to, so reads take the same lock the escalation path mutates under.
func (l *Limiter) SoftBanBlocks(ip, username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ban, ok := l.softBans.Get(ip)
	if !ok {
		return false
	}
	_, blocked := ban.(*softBan).blocked[username]
	return blocked
}

// windowFor returns the window for (ip, port), creating it if the connection
// was never registered. Caller holds l.mu.
func (l *Limiter) windowFor(ip, port string) *window {
	ports, ok := l.windows[ip]
	if !ok {
		ports = make(map[string]*window)
		l.windows[ip] = ports
	}
	w, ok := ports[port]
	if !ok {
		now := l.now()
		w = &window{windowStart: now, lastSeen: now}
		ports[port] = w
	}
	return w
}
