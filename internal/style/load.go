package style

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/dmorgan81/sdclient/internal/param"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a catalog definition from disk. Files ending in .yaml or
// .yml are decoded as YAML, everything else as a JSON array.
func LoadFile(ctx context.Context, path string) (*Catalog, error) {
	log.FromContextOrDiscard(ctx).WithGroup("style").Info("loading style catalog", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style catalog: %w", err)
	}

	var presets []Preset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &presets)
	default:
		err = json.Unmarshal(data, &presets)
	}
	if err != nil {
		return nil, fmt.Errorf("decode style catalog %s: %w", path, err)
	}
	return New(presets)
}

// LoadParams builds a catalog from parameters stored below path, one JSON
// encoded preset per parameter.
func LoadParams(ctx context.Context, fetcher param.Fetcher, path string) (*Catalog, error) {
	log.FromContextOrDiscard(ctx).WithGroup("style").Info("loading style catalog from parameters", "path", path)

	values, err := fetcher.FetchAll(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetch style catalog: %w", err)
	}

	presets := make([]Preset, 0, len(values))
	for _, v := range values {
		var p Preset
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode style parameter: %w", err)
		}
		presets = append(presets, p)
	}
	return New(presets)
}
