package responses

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// Key indexes the positional responses array of a language file.
type Key int

const (
	Welcome Key = iota
	InvalidLink
	Processing
	DownloadError
	CompressError
	SendError
	Denied

	// Busy is optional in language files, missing entries use the embedded English text
	Busy

	keysCount
)

// requiredCount is the number of leading entries every language file must carry.
const requiredCount = int(Busy)

const DefaultLanguage = "en"

//go:embed lang/*.json
var builtin embed.FS

type file struct {
	Responses []string `json:"responses"`
}

// Catalog holds response strings per language.
type Catalog struct {
	fallback string
	langs    map[string][]string
	defaults []string
}

// Load reads the embedded languages and then every <lang>.json in dir,
// overriding embedded ones. Empty dir loads only embedded languages.
func Load(dir, fallback string) (*Catalog, error) {
	if fallback == "" {
		fallback = DefaultLanguage
	}

	c := &Catalog{
		fallback: normalizeLang(fallback),
		langs:    make(map[string][]string),
	}

	if err := c.loadFS(builtin, "lang"); err != nil {
		return nil, fmt.Errorf("loading embedded responses: %w", err)
	}

	c.defaults = c.langs[DefaultLanguage]
	if len(c.defaults) < int(keysCount) {
		return nil, fmt.Errorf("embedded %s responses are incomplete", DefaultLanguage)
	}

	if dir != "" {
		if err := c.loadFS(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("loading responses from %s: %w", dir, err)
		}
	}

	if _, ok := c.langs[c.fallback]; !ok {
		return nil, fmt.Errorf("fallback language %q has no responses", c.fallback)
	}

	return c, nil
}

func (c *Catalog) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}

	for _, ent := range entries {
		if ent.IsDir() || path.Ext(ent.Name()) != ".json" {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, ent.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", ent.Name(), err)
		}

		list, err := Parse(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", ent.Name(), err)
		}

		c.langs[normalizeLang(strings.TrimSuffix(ent.Name(), ".json"))] = list
	}

	return nil
}

// Parse decodes a {"responses": [...]} document.
func Parse(data []byte) ([]string, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	if len(f.Responses) < requiredCount {
		return nil, fmt.Errorf("expected at least %d responses, got %d", requiredCount, len(f.Responses))
	}

	for i, r := range f.Responses[:requiredCount] {
		if strings.TrimSpace(r) == "" {
			return nil, fmt.Errorf("response %d is empty", i)
		}
	}

	return f.Responses, nil
}

// Get returns the response for lang, falling back to the base language of a
// regional code (pt-br -> pt) and then to the fallback language.
func (c *Catalog) Get(lang string, key Key) string {
	lang = normalizeLang(lang)

	if list, ok := c.langs[lang]; ok {
		return c.pick(list, key)
	}

	if base, _, found := strings.Cut(lang, "-"); found {
		if list, ok := c.langs[base]; ok {
			return c.pick(list, key)
		}
	}

	return c.pick(c.langs[c.fallback], key)
}

func (c *Catalog) pick(list []string, key Key) string {
	if int(key) < len(list) && strings.TrimSpace(list[key]) != "" {
		return list[key]
	}
	return c.defaults[key]
}

// Languages returns the loaded language codes in sorted order.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.langs))
	for l := range c.langs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func normalizeLang(lang string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(lang)), "_", "-")
}
