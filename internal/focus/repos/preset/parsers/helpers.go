// Package parsers reads host lists in the formats blocklists are usually
// published in: /etc/hosts files and plain one-host-per-line lists.
package parsers

import (
	"net"
	"strings"

	"github.com/haukened/rr-focus/internal/focus/common/utils"
)

// blockable reports whether a canonical host can become a rule. Single-label
// names such as "localhost" or "broadcasthost" are never blocked.
func blockable(host string) bool {
	if !strings.Contains(host, ".") || net.ParseIP(host) != nil {
		return false
	}
	return utils.ValidateHost(host) == nil
}

// classifyLine reports whether line is blank or a whole-line comment.
func classifyLine(line string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	return false, strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!")
}

func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// hostSet collects hosts in first-seen order.
type hostSet struct {
	seen map[string]struct{}
	out  []string
}

func newHostSet() *hostSet {
	return &hostSet{seen: make(map[string]struct{}), out: make([]string, 0, 64)}
}

// add reports false for a host already in the set.
func (s *hostSet) add(host string) bool {
	if _, ok := s.seen[host]; ok {
		return false
	}
	s.seen[host] = struct{}{}
	s.out = append(s.out, host)
	return true
}
