package preset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-focus/internal/focus/common/utils"
)

const testYAML = `
name: Deep-Work
description: No feeds
duration: 50m
hosts:
  - Twitter.com
  - "  "
  - news.ycombinator.com
  - twitter.com
`

const testJSON = `{
	"description": "Social networks",
	"hosts": ["facebook.com", "instagram.com"]
}
`

const testTOML = `name = "video"
hosts = "youtube.com"
`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadPresetDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "deep.yaml", testYAML)
	writeFile(t, dir, "social.json", testJSON)
	writeFile(t, dir, "video.toml", testTOML)
	writeFile(t, dir, "README.md", "# not a preset")

	cat, err := LoadPresetDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cat.Len())

	deep, err := cat.Get("deep-work")
	require.NoError(t, err)
	assert.Equal(t, Preset{
		Name:        "deep-work",
		Description: "No feeds",
		Hosts:       []string{"twitter.com", "news.ycombinator.com"},
		Duration:    50 * time.Minute,
	}, deep)

	social, err := cat.Get("social")
	require.NoError(t, err, "name falls back to the file name")
	assert.Equal(t, []string{"facebook.com", "instagram.com"}, social.Hosts)

	video, err := cat.Get(" VIDEO ")
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube.com"}, video.Hosts)

	names := []string{}
	for _, p := range cat.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"deep-work", "social", "video"}, names)
}

func TestLoadPresetDirectory_HostLists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Ads.hosts", "# ad servers\n0.0.0.0 ads.example.com tracker.example.net\n127.0.0.1 localhost\n")
	writeFile(t, dir, "news.txt", "*.cnn.com\nbbc.co.uk # uk\n\nCNN.com\n")
	writeFile(t, dir, "sub/games.list", "steampowered.com\n")

	cat, err := LoadPresetDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cat.Len())

	ads, err := cat.Get("ads")
	require.NoError(t, err)
	assert.Equal(t, Preset{Name: "ads", Hosts: []string{"ads.example.com", "tracker.example.net"}}, ads)

	news, err := cat.Get("news")
	require.NoError(t, err)
	assert.Equal(t, []string{"cnn.com", "bbc.co.uk"}, news.Hosts)

	games, err := cat.Get("games")
	require.NoError(t, err)
	assert.Equal(t, []string{"steampowered.com"}, games.Hosts)
}

func TestLoadPresetDirectory_EmptyHostList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nothing.txt", "# only comments\nlocalhost\n")
	_, err := LoadPresetDirectory(dir)
	assert.ErrorContains(t, err, "no hosts")
}

func TestLoadPresetDirectory_Empty(t *testing.T) {
	cat, err := LoadPresetDirectory(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
	assert.Empty(t, cat.List())
}

func TestLoadPresetDirectory_Missing(t *testing.T) {
	_, err := LoadPresetDirectory(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadPresetDirectory_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		is    error
	}{
		{"malformed yaml", map[string]string{"bad.yaml": "hosts:\n\t- x"}, nil},
		{"no hosts", map[string]string{"empty.yaml": "name: empty\n"}, nil},
		{"bad duration", map[string]string{"d.yaml": "duration: soon\nhosts: [a.com]\n"}, nil},
		{"url instead of host", map[string]string{"u.yaml": "hosts: [\"https://a.com/feed\"]\n"}, utils.ErrHostHasScheme},
		{"public suffix", map[string]string{"p.yaml": "hosts: [com]\n"}, utils.ErrHostPublicSuffix},
		{"duplicate name", map[string]string{
			"a.yaml": "name: x\nhosts: [a.com]\n",
			"b.json": `{"name": "x", "hosts": ["b.com"]}`,
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tt.files {
				writeFile(t, dir, name, body)
			}
			_, err := LoadPresetDirectory(dir)
			require.Error(t, err)
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is), "got %v", err)
			}
		})
	}
}

func TestCatalog_GetUnknown(t *testing.T) {
	_, err := NewCatalog().Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var nilCat *Catalog
	_, err = nilCat.Get("x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, nilCat.Len())
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	cat := NewCatalog(Preset{Name: "a", Hosts: []string{"a.com"}})
	p, err := cat.Get("a")
	require.NoError(t, err)
	p.Hosts[0] = "mutated.com"

	again, _ := cat.Get("a")
	assert.Equal(t, []string{"a.com"}, again.Hosts)
}

func TestToStringValues(t *testing.T) {
	assert.Equal(t, []string{"a"}, toStringValues(" a "))
	assert.Nil(t, toStringValues("  "))
	assert.Equal(t, []string{"a", "b"}, toStringValues([]any{"a", 3, " ", "b"}))
	assert.Nil(t, toStringValues(42))
}
