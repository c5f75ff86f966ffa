// Package access implements admin identification and per-command
// authorization. Admin matching is memoized for 60 seconds per
// (nick, userhost) pair; the cache is invalidated wholesale on config
// reload.
package access

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// CacheTTL is how long an admin-match result is memoized per identity.
const CacheTTL = 60 * time.Second

// Requirement is a command's minimum authorization level.
type Requirement string

const (
	RequireAny   Requirement = "any"
	RequireVoice Requirement = "voice"
	RequireOp    Requirement = "op"
	RequireAdmin Requirement = "admin"
)

// Identity is the caller context Authorize and IsAdmin need: who sent
// the message, from where, and what the room knows about them.
type Identity struct {
	Nick    string
	Ident   string
	Host    string
	Account string // "" if not known/identified
}

// Mask returns the canonical nick!ident@host form used for mask matching.
func (id Identity) Mask() string {
	return id.Nick + "!" + id.Ident + "@" + id.Host
}

type cacheEntry struct {
	result  bool
	expires time.Time
}

// Control holds the ordered admin-pattern list and the admin-match
// memoization cache.
type Control struct {
	mu     sync.Mutex
	admins []string
	cache  map[string]cacheEntry

	now func() time.Time
}

// New returns a Control with the given ordered admin patterns.
func New(admins []string) *Control {
	return &Control{
		admins: admins,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// SetAdmins replaces the admin pattern list, as part of a config reload,
// and invalidates the memoization cache.
func (c *Control) SetAdmins(admins []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admins = admins
	c.cache = make(map[string]cacheEntry)
}

// Invalidate clears the memoization cache without changing the pattern
// list, for a config reload that leaves admins unchanged but wants a
// fresh read (e.g. account data updated out of band).
func (c *Control) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

func cacheKey(id Identity) string {
	return strings.ToLower(id.Nick) + "\x00" + strings.ToLower(id.Ident) + "@" + strings.ToLower(id.Host)
}

// IsAdmin reports whether id matches one of the configured admin
// patterns: an exact (case-insensitive) nick, an account name, or an
// IRC-wildcard mask against nick!ident@host. Results are memoized for
// CacheTTL per identity.
func (c *Control) IsAdmin(id Identity) bool {
	key := cacheKey(id)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok {
		if c.now().Before(entry.expires) {
			c.mu.Unlock()
			return entry.result
		}
		delete(c.cache, key)
	}
	admins := c.admins
	c.mu.Unlock()

	result := matchAny(id, admins)

	c.mu.Lock()
	c.cache[key] = cacheEntry{result: result, expires: c.now().Add(CacheTTL)}
	c.mu.Unlock()

	return result
}

func matchAny(id Identity, admins []string) bool {
	mask := id.Mask()
	for _, pattern := range admins {
		if strings.ContainsAny(pattern, "!@") {
			if matchMask(mask, pattern) {
				return true
			}
			continue
		}
		if id.Account != "" && strings.EqualFold(id.Account, pattern) {
			return true
		}
		if strings.EqualFold(id.Nick, pattern) {
			return true
		}
	}
	return false
}

// matchMask reports whether mask matches an IRC-wildcard pattern, where
// '*' matches zero or more characters (non-greedy) and '?' matches
// exactly one character. Matching is case-insensitive.
func matchMask(mask, pattern string) bool {
	re, err := compileMaskPattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(mask)
}

var maskPatternCache sync.Map // pattern string -> *regexp.Regexp

func compileMaskPattern(pattern string) (*regexp.Regexp, error) {
	if v, ok := maskPatternCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*?")
		case '?':
			b.WriteByte('.')
		case '.', '+', '^', '$', '(', ')', '[', ']', '{', '}', '|', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	maskPatternCache.Store(pattern, re)
	return re, nil
}

// Authorize applies a command's requirement against the caller's
// standing. Admins bypass every requirement. Otherwise: admin denies
// non-admins, op requires the room op flag, voice requires voice or op,
// any always permits.
func Authorize(requires Requirement, isAdmin, isOp, isVoice bool) bool {
	if isAdmin {
		return true
	}
	switch requires {
	case RequireAdmin:
		return false
	case RequireOp:
		return isOp
	case RequireVoice:
		return isVoice || isOp
	default:
		return true
	}
}
