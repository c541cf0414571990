// Package style holds the named prompt presets a generation request can be
// decorated with. A Catalog is built once at startup and only read afterwards.
package style

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Placeholder is replaced by the user's raw prompt in Preset.Prompt.
const Placeholder = "{prompt}"

var ErrDuplicate = errors.New("duplicate style name")

type Preset struct {
	Name           string `json:"name" yaml:"name"`
	Prompt         string `json:"prompt" yaml:"prompt"`
	NegativePrompt string `json:"negative_prompt" yaml:"negative_prompt"`
}

type Catalog struct {
	presets map[string]Preset
}

// New indexes presets by name. Names must be unique.
func New(presets []Preset) (*Catalog, error) {
	if dups := lo.FindDuplicatesBy(presets, func(p Preset) string { return p.Name }); len(dups) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, dups[0].Name)
	}
	return &Catalog{presets: lo.KeyBy(presets, func(p Preset) string { return p.Name })}, nil
}

// Lookup reports the preset registered under name. A miss means no style is
// applied; it is not an error.
func (c *Catalog) Lookup(name string) (Preset, bool) {
	if c == nil {
		return Preset{}, false
	}
	p, ok := c.presets[name]
	return p, ok
}

func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := lo.Keys(c.presets)
	sort.Strings(names)
	return names
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.presets)
}
