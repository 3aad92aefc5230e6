package bot

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

//go:embed messages.yaml
var defaultMessages []byte

// Catalog holds user-facing texts under dot keys ("user.welcome").
// Texts use {name} placeholders.
type Catalog struct {
	texts map[string]string
}

// LoadCatalog parses a nested YAML document of strings.
func LoadCatalog(raw []byte) (*Catalog, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	c := &Catalog{texts: map[string]string{}}
	if err := c.flatten("", doc); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultMessages)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) flatten(prefix string, m map[string]any) error {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case string:
			c.texts[key] = vv
		case map[string]any:
			if err := c.flatten(key, vv); err != nil {
				return err
			}
		default:
			return fmt.Errorf("messages: value of %q must be a string", key)
		}
	}
	return nil
}

// Keys lists every key, sorted.
func (c *Catalog) Keys() []string {
	out := make([]string, 0, len(c.texts))
	for k := range c.texts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// T renders key with name/value pairs. Unknown keys render as "[key]".
func (c *Catalog) T(key string, kv ...any) string {
	s, ok := c.texts[key]
	if !ok {
		return "[" + key + "]"
	}
	if len(kv) == 0 {
		return s
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+fmt.Sprint(kv[i])+"}", fmt.Sprint(kv[i+1]))
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
