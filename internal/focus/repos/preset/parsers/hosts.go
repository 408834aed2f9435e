package parsers

import (
	"bufio"
	"io"
	"net"
	"strings"

	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/common/utils"
)

// ParseHostsFile reads an /etc/hosts-style file and returns the canonical
// hosts it maps, in first-seen order without duplicates.
//
// Rules:
// - The leading IP field is ignored; every following token is a host
// - Comments (whole-line or inline after '#') and blank lines are skipped
// - Wildcards and names starting with '.' are not valid hosts file syntax
// - Single-label names (localhost, broadcasthost) and IP literals are dropped
func ParseHostsFile(r io.Reader, source string, logger log.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)
	set := newHostSet()

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		fields := strings.Fields(stripInlineComment(line))
		if len(fields) < 2 || net.ParseIP(fields[0]) == nil {
			logger.Debug(map[string]any{"source": source, "line": lineNum}, "hosts_skip_malformed")
			continue
		}

		for _, raw := range fields[1:] {
			if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
				logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "hosts_skip_wildcard")
				continue
			}
			host := utils.CanonicalHostName(raw)
			if !blockable(host) {
				logger.Debug(map[string]any{"line": lineNum, "host": host}, "hosts_skip_invalid")
				continue
			}
			set.add(host)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "count": len(set.out)}, "parse_hosts_done")
	return set.out, nil
}
