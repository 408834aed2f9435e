// Package compiler maps an ordered host list to block directives.
//
// Compile is pure and deterministic: the same hosts and action produce the
// same rules, and it is safe to call from any number of goroutines.
package compiler

import (
	"net/url"
	"strings"

	"github.com/haukened/rr-focus/internal/focus/common/utils"
	"github.com/haukened/rr-focus/internal/focus/domain"
)

const (
	patternPrefix = "*://*."
	patternSuffix = "/*"
)

// ActionFunc returns the action attached to the rule for host.
type ActionFunc func(host string) domain.BlockAction

// PlaceholderAction redirects to base with the blocked host appended as the
// "host" query parameter. base may already carry a query string.
func PlaceholderAction(base string) ActionFunc {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return func(host string) domain.BlockAction {
		return domain.BlockAction{
			Type:        domain.ActionRedirect,
			RedirectURL: base + sep + "host=" + url.QueryEscape(host),
		}
	}
}

// BlockOnly cancels matched requests without a redirect.
func BlockOnly(string) domain.BlockAction {
	return domain.BlockAction{Type: domain.ActionBlock}
}

// Compile emits one rule per non-blank host. IDs are assigned densely 1..N
// over the emitted rules, so blank entries leave no gap. A nil action falls
// back to BlockOnly.
func Compile(hosts []string, action ActionFunc) []domain.Rule {
	if action == nil {
		action = BlockOnly
	}
	rules := make([]domain.Rule, 0, len(hosts))
	for _, raw := range hosts {
		host := utils.CanonicalHostName(raw)
		if host == "" {
			continue
		}
		rules = append(rules, domain.Rule{
			ID:            len(rules) + 1,
			HostPattern:   Pattern(host),
			Host:          host,
			ResourceKinds: []domain.ResourceKind{domain.ResourceMainFrame},
			Action:        action(host),
		})
	}
	return rules
}

// Pattern returns the url filter for host: any scheme, host or any subdomain
// of it, any path.
func Pattern(host string) string {
	return patternPrefix + host + patternSuffix
}

// HostFromPattern inverts Pattern. ok is false for patterns Pattern could not
// have produced.
func HostFromPattern(pattern string) (host string, ok bool) {
	if !strings.HasPrefix(pattern, patternPrefix) || !strings.HasSuffix(pattern, patternSuffix) {
		return "", false
	}
	host = strings.TrimSuffix(strings.TrimPrefix(pattern, patternPrefix), patternSuffix)
	if host == "" {
		return "", false
	}
	return host, true
}

// NormalizeHosts canonicalizes hosts and drops blanks, keeping order. It is
// the host list Compile would emit rules for.
func NormalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if c := utils.CanonicalHostName(h); c != "" {
			out = append(out, c)
		}
	}
	return out
}
