// Package preset loads named host lists ("deep work", "social", ...) that a
// session can be started from. Presets live in a directory of YAML, JSON or
// TOML files, one preset per file:
//
//	name: deep-work
//	description: No feeds, no news
//	duration: 50m
//	hosts:
//	  - twitter.com
//	  - news.ycombinator.com
//
// name defaults to the file name without its extension.
//
// Published blocklists can be dropped in as-is: a .hosts file is read as an
// /etc/hosts file and a .txt or .list file as one host per line. Such a
// preset is named after its file and has no description or duration.
package preset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/common/utils"
	"github.com/haukened/rr-focus/internal/focus/repos/preset/parsers"
)

// ErrNotFound is returned by Catalog.Get for unknown names.
var ErrNotFound = errors.New("preset not found")

// Preset is a named, validated host list.
type Preset struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Hosts       []string      `json:"hosts"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Catalog is an immutable set of presets keyed by name.
type Catalog struct {
	presets map[string]Preset
}

// NewCatalog builds a catalog from already loaded presets. Later entries
// replace earlier ones with the same name.
func NewCatalog(presets ...Preset) *Catalog {
	c := &Catalog{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		p.Hosts = slices.Clone(p.Hosts)
		c.presets[p.Name] = p
	}
	return c
}

// Get returns the named preset.
func (c *Catalog) Get(name string) (Preset, error) {
	if c == nil {
		return Preset{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	p, ok := c.presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	p.Hosts = slices.Clone(p.Hosts)
	return p, nil
}

// List returns all presets sorted by name.
func (c *Catalog) List() []Preset {
	if c == nil {
		return []Preset{}
	}
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		p.Hosts = slices.Clone(p.Hosts)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of presets.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.presets)
}

// LoadPresetDirectory walks dir and loads every supported preset file. Files
// with other extensions are ignored. Any malformed file fails the whole load,
// as does a name defined twice.
func LoadPresetDirectory(dir string) (*Catalog, error) {
	var presets []Preset
	seen := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		p, ok, err := loadPresetFile(path)
		if err != nil {
			return fmt.Errorf("error parsing preset file %s: %w", path, err)
		}
		if !ok {
			return nil
		}
		if prev, dup := seen[p.Name]; dup {
			return fmt.Errorf("preset %q defined in both %s and %s", p.Name, prev, path)
		}
		seen[p.Name] = path
		presets = append(presets, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewCatalog(presets...), nil
}

// loadPresetFile parses a single file. ok is false for unsupported extensions.
func loadPresetFile(path string) (Preset, bool, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".hosts":
		return loadListFile(path, parsers.ParseHostsFile)
	case ".txt", ".list":
		return loadListFile(path, parsers.ParsePlainList)
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return Preset{}, false, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return Preset{}, false, fmt.Errorf("failed to load preset file %s: %w", path, err)
	}

	name := k.String("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	p := Preset{
		Name:        strings.ToLower(strings.TrimSpace(name)),
		Description: strings.TrimSpace(k.String("description")),
	}
	if d := k.String("duration"); d != "" {
		dur, err := time.ParseDuration(d)
		if err != nil || dur < 0 {
			return Preset{}, false, fmt.Errorf("invalid duration %q", d)
		}
		p.Duration = dur
	}

	hosts, err := canonicalHosts(toStringValues(k.Get("hosts")))
	if err != nil {
		return Preset{}, false, err
	}
	if len(hosts) == 0 {
		return Preset{}, false, errors.New("preset has no hosts")
	}
	p.Hosts = hosts
	return p, true, nil
}

// loadListFile reads a bare host list with parse.
func loadListFile(path string, parse func(io.Reader, string, log.Logger) ([]string, error)) (Preset, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return Preset{}, false, err
	}
	defer f.Close()

	hosts, err := parse(f, path, log.Component(log.GetLogger(), "preset"))
	if err != nil {
		return Preset{}, false, fmt.Errorf("failed to read host list %s: %w", path, err)
	}
	if len(hosts) == 0 {
		return Preset{}, false, errors.New("preset has no hosts")
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Preset{Name: strings.ToLower(strings.TrimSpace(name)), Hosts: hosts}, true, nil
}

// canonicalHosts canonicalizes and validates hosts, dropping duplicates.
func canonicalHosts(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, h := range raw {
		host := utils.CanonicalHostName(h)
		if err := utils.ValidateHost(host); err != nil {
			return nil, err
		}
		if !slices.Contains(out, host) {
			out = append(out, host)
		}
	}
	return out, nil
}

// toStringValues accepts a single string or a list, skipping blanks and
// non-string elements.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
