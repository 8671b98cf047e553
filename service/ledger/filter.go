package ledger

import (
	"sort"
	"strings"
)

// Whitelist is the set of wallet addresses a run is scoped to.
// An empty whitelist means every transaction is relevant.
type Whitelist struct {
	addrs map[string]struct{}
}

// ParseWhitelist parses a comma-separated address list.
// Entries are trimmed and empty entries are dropped.
func ParseWhitelist(param string) Whitelist {
	wl := Whitelist{addrs: make(map[string]struct{})}
	for _, part := range strings.Split(param, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		wl.addrs[addr] = struct{}{}
	}
	return wl
}

// NewWhitelist builds a whitelist from individual addresses.
func NewWhitelist(addrs ...string) Whitelist {
	return ParseWhitelist(strings.Join(addrs, ","))
}

// Enabled reports whether filtering is active.
func (w Whitelist) Enabled() bool {
	return len(w.addrs) > 0
}

// Contains reports whether addr is whitelisted.
func (w Whitelist) Contains(addr string) bool {
	_, ok := w.addrs[addr]
	return ok
}

// IsRelevant reports whether any resolved account is whitelisted.
// Any account role counts: signer, program, writable or readonly.
func (w Whitelist) IsRelevant(accounts []string) bool {
	if !w.Enabled() {
		return true
	}
	for _, a := range accounts {
		if w.Contains(a) {
			return true
		}
	}
	return false
}

// Addresses returns the whitelisted addresses in sorted order.
func (w Whitelist) Addresses() []string {
	out := make([]string, 0, len(w.addrs))
	for a := range w.addrs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// String renders the whitelist in the same comma-separated form it was parsed from.
func (w Whitelist) String() string {
	return strings.Join(w.Addresses(), ",")
}
