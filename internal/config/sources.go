package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

//go:embed sources.yaml
var defaultSourcesYAML []byte

const municipalityPlaceholder = "{municipality_code}"

// Source is a validated registry entry.
type Source struct {
	Name       string
	Tiers      []domain.Tier
	Locations  map[domain.Tier]string
	Indicators []Indicator
}

// Indicator is one catalogued series of a source.
type Indicator struct {
	Key       string
	Category  string
	Unit      string
	Params    map[string]string
	Tiers     []domain.Tier
	Locations map[domain.Tier]string
}

type registryFile struct {
	Sources map[string]sourceSpec `yaml:"sources"`
}

type sourceSpec struct {
	Tiers      []string          `yaml:"tiers"`
	Endpoints  map[string]string `yaml:"endpoints"`
	Files      map[string]string `yaml:"files"`
	Indicators []indicatorSpec   `yaml:"indicators"`
}

type indicatorSpec struct {
	Key       string            `yaml:"key"`
	Category  string            `yaml:"category"`
	Unit      string            `yaml:"unit"`
	Params    map[string]string `yaml:"params"`
	Tiers     []string          `yaml:"tiers"`
	Endpoints map[string]string `yaml:"endpoints"`
	Files     map[string]string `yaml:"files"`
}

// LoadSources reads the registry at path, or the built-in registry when path
// is empty, substituting municipalityCode into endpoints and params.
func LoadSources(path, municipalityCode string) ([]Source, error) {
	data := defaultSourcesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read SOURCES_FILE: %w", err)
		}
		data = b
	}
	return parseSources(data, municipalityCode)
}

func parseSources(data []byte, municipalityCode string) ([]Source, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse source registry: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, errors.New("source registry defines no sources")
	}

	names := make([]string, 0, len(file.Sources))
	for name := range file.Sources {
		names = append(names, name)
	}
	slices.Sort(names)

	sources := make([]Source, 0, len(names))
	for _, name := range names {
		src, err := buildSource(name, file.Sources[name], municipalityCode)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func buildSource(name string, spec sourceSpec, code string) (Source, error) {
	tiers, err := parseTiers(spec.Tiers)
	if err != nil {
		return Source{}, fmt.Errorf("source %s: %w", name, err)
	}
	if len(tiers) == 0 {
		return Source{}, fmt.Errorf("source %s: no tiers", name)
	}

	locations, err := parseLocations(spec.Endpoints, spec.Files, code)
	if err != nil {
		return Source{}, fmt.Errorf("source %s: %w", name, err)
	}
	defaultGlob := "*" + strings.ToLower(name) + "*.csv"
	for _, t := range domain.Tiers {
		if !t.IsNetwork() && locations[t] == "" {
			locations[t] = defaultGlob
		}
	}

	src := Source{Name: name, Tiers: tiers, Locations: locations}
	seen := make(map[string]bool, len(spec.Indicators))
	for _, is := range spec.Indicators {
		if is.Key == "" {
			return Source{}, fmt.Errorf("source %s: indicator without key", name)
		}
		if seen[is.Key] {
			return Source{}, fmt.Errorf("source %s: duplicate indicator %s", name, is.Key)
		}
		seen[is.Key] = true

		ind, err := buildIndicator(is, code)
		if err != nil {
			return Source{}, fmt.Errorf("source %s indicator %s: %w", name, is.Key, err)
		}
		if err := checkEndpoints(src, ind); err != nil {
			return Source{}, fmt.Errorf("source %s indicator %s: %w", name, is.Key, err)
		}
		src.Indicators = append(src.Indicators, ind)
	}
	return src, nil
}

func buildIndicator(spec indicatorSpec, code string) (Indicator, error) {
	tiers, err := parseTiers(spec.Tiers)
	if err != nil {
		return Indicator{}, err
	}
	locations, err := parseLocations(spec.Endpoints, spec.Files, code)
	if err != nil {
		return Indicator{}, err
	}

	category := spec.Category
	if category == "" {
		category = domain.DefaultCategory
	}
	params := make(map[string]string, len(spec.Params))
	for k, v := range spec.Params {
		params[k] = strings.ReplaceAll(v, municipalityPlaceholder, code)
	}
	return Indicator{
		Key:       spec.Key,
		Category:  category,
		Unit:      spec.Unit,
		Params:    params,
		Tiers:     tiers,
		Locations: locations,
	}, nil
}

// checkEndpoints rejects network tiers that would resolve to no endpoint.
func checkEndpoints(src Source, ind Indicator) error {
	tiers := src.Tiers
	if len(ind.Tiers) > 0 {
		tiers = ind.Tiers
	}
	for _, t := range tiers {
		if t.IsNetwork() && ind.Locations[t] == "" && src.Locations[t] == "" {
			return fmt.Errorf("tier %s has no endpoint", t)
		}
	}
	return nil
}

func parseTiers(names []string) ([]domain.Tier, error) {
	tiers := make([]domain.Tier, 0, len(names))
	for _, n := range names {
		t, err := domain.ParseTier(n)
		if err != nil {
			return nil, err
		}
		if slices.Contains(tiers, t) {
			return nil, fmt.Errorf("duplicate tier %s", t)
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

func parseLocations(endpoints, files map[string]string, code string) (map[domain.Tier]string, error) {
	out := make(map[domain.Tier]string, len(endpoints)+len(files))
	for name, url := range endpoints {
		t, err := domain.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if !t.IsNetwork() {
			return nil, fmt.Errorf("endpoint given for file tier %s", t)
		}
		out[t] = strings.ReplaceAll(url, municipalityPlaceholder, code)
	}
	for name, glob := range files {
		t, err := domain.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if t.IsNetwork() {
			return nil, fmt.Errorf("file glob given for network tier %s", t)
		}
		out[t] = glob
	}
	return out, nil
}
