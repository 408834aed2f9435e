package parsers

import (
	"bufio"
	"io"
	"strings"

	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/common/utils"
)

// ParsePlainList reads a newline-delimited host list. A leading "*." or "."
// is accepted and dropped, since every rule already covers subdomains.
// Comments start with '#' (or '!' for a whole line, as in adblock headers).
// Hosts are returned canonical, in first-seen order without duplicates.
func ParsePlainList(r io.Reader, source string, logger log.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)
	set := newHostSet()

	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		raw := strings.TrimSpace(stripInlineComment(line))
		if raw == "" {
			continue
		}
		host := utils.CanonicalHostName(raw)
		if !blockable(host) {
			// emails, URLs, stray tokens
			logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "skip_invalid_host")
			continue
		}
		if !set.add(host) {
			logger.Debug(map[string]any{"line": lineNum, "host": host}, "skip_duplicate")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(set.out)}, "parse_plain_list_done")
	return set.out, nil
}
