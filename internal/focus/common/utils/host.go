package utils

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var (
	// ErrHostHasScheme reports input such as "https://example.com".
	ErrHostHasScheme = errors.New("host must not include a scheme")
	// ErrHostHasPath reports input with a path, query, fragment or port.
	ErrHostHasPath = errors.New("host must be a bare domain without path or port")
	// ErrHostPublicSuffix reports a host that is itself an ICANN public suffix.
	ErrHostPublicSuffix = errors.New("host is a public suffix")
)

// CanonicalHostName returns a host in canonical form:
// - Trimmed of surrounding whitespace
// - Leading "*." or "." wildcard markers removed
// - Lowercased and converted to its ASCII (punycode) form where possible
// - No trailing dot
//
// Blank input returns "". Inputs IDNA rejects are returned lowercased as-is so
// ValidateHost can report them.
func CanonicalHostName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	if name == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		return ascii
	}
	return name
}

// ValidateHost checks a canonical host name (see CanonicalHostName):
//   - no scheme, path, port, query or whitespace
//   - total length at most 253 characters
//   - every label 1..63 characters of letters, digits or hyphens, not
//     starting or ending with a hyphen
//   - not an ICANN public suffix on its own ("com", "co.uk")
func ValidateHost(host string) error {
	if host == "" {
		return errors.New("host must not be empty")
	}
	if strings.Contains(host, "://") {
		return ErrHostHasScheme
	}
	if strings.ContainsAny(host, "/?#:@") {
		return ErrHostHasPath
	}
	if len(host) > 253 {
		return fmt.Errorf("host exceeds 253 characters: %d", len(host))
	}
	for _, label := range strings.Split(host, ".") {
		if err := validateLabel(label); err != nil {
			return fmt.Errorf("invalid host %q: %w", host, err)
		}
	}
	if IsPublicSuffix(host) {
		return fmt.Errorf("%w: %q", ErrHostPublicSuffix, host)
	}
	return nil
}

// IsPublicSuffix reports whether host is exactly an ICANN-managed public
// suffix. Privately registered suffixes such as "github.io" are not counted,
// so a user can still block an entire hosting platform.
func IsPublicSuffix(host string) bool {
	ps, icann := publicsuffix.PublicSuffix(host)
	return icann && ps == host
}

func validateLabel(label string) error {
	if len(label) == 0 || len(label) > 63 {
		return fmt.Errorf("label length %d out of range", len(label))
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("label %q contains invalid character %q", label, r)
		}
	}
	return nil
}
