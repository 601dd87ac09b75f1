package presets

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	c "github.com/varfish-org/varfish-server-sub005/models/constants"
	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
)

var ErrPresetNotFound = errors.New("preset not found")

// Registry holds the named quick-preset bundles. A registry is loaded
// once at startup and never mutated; queries referencing its presets
// stay reproducible because the whole set is versioned
type Registry struct {
	Version     string                                   `yaml:"version"`
	Inheritance map[string]InheritancePreset             `yaml:"inheritance"`
	Quality     map[string]map[string]QualityPreset      `yaml:"quality"` // preset name -> member role -> constraint
	Frequency   map[string]map[string]FrequencyPreset    `yaml:"frequency"`
	Consequence map[string]settings.ConsequenceSettings  `yaml:"consequence"`
	Locus       map[string]settings.LocusSettings        `yaml:"locus"`
}

type InheritancePreset struct {
	Mode string `yaml:"mode"`
}

type QualityPreset struct {
	MinDp    *int       `yaml:"minDp"`
	MinAd    *int       `yaml:"minAd"`
	MinGq    *int       `yaml:"minGq"`
	MinAb    *float64   `yaml:"minAb"`
	FailMode c.FailMode `yaml:"failMode"`
}

type FrequencyPreset struct {
	Enabled         bool     `yaml:"enabled"`
	MaxFrequency    *float64 `yaml:"maxFrequency"`
	MaxHomozygous   *int     `yaml:"maxHomozygous"`
	MaxHeterozygous *int     `yaml:"maxHeterozygous"`
	MaxHemizygous   *int     `yaml:"maxHemizygous"`
	MaxCarriers     *int     `yaml:"maxCarriers"`
}

func NewRegistryFromYamlFile(path string) (*Registry, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading preset registry: %w", err)
	}
	return NewRegistryFromYaml(contents)
}

func NewRegistryFromYaml(contents []byte) (*Registry, error) {
	var registry Registry
	if err := yaml.Unmarshal(contents, &registry); err != nil {
		return nil, fmt.Errorf("parsing preset registry: %w", err)
	}
	if registry.Version == "" {
		return nil, fmt.Errorf("preset registry carries no version")
	}
	return &registry, nil
}

// Expand resolves the given shortcut names into a structured filter
// document. Pure function: the registry is only read, never touched.
// Every non-empty shortcut must resolve to exactly one stored sub-preset.
func (r *Registry) Expand(inheritanceName, qualityName, frequencyName, consequenceName, locusName string, memberIds []string) (*settings.FilterSettings, error) {
	expanded := &settings.FilterSettings{
		Mode:      inheritanceMode.Any,
		Genotype:  map[string]*settings.MemberConstraint{},
		Frequency: map[string]*settings.FrequencySettings{},
	}

	if inheritanceName != "" {
		preset, ok := r.Inheritance[inheritanceName]
		if !ok {
			return nil, fmt.Errorf("inheritance shortcut '%s': %w", inheritanceName, ErrPresetNotFound)
		}
		mode, err := inheritanceMode.CastToInheritanceMode(preset.Mode)
		if err != nil {
			return nil, fmt.Errorf("inheritance shortcut '%s' stores invalid mode '%s'", inheritanceName, preset.Mode)
		}
		expanded.Mode = mode
	}

	if qualityName != "" {
		roleConstraints, ok := r.Quality[qualityName]
		if !ok {
			return nil, fmt.Errorf("quality shortcut '%s': %w", qualityName, ErrPresetNotFound)
		}
		// the "all" role applies the same constraint to every member
		// carrying genotype data; explicit roles are not expanded here
		// because shortcut presets address whole-pedigree defaults
		base, hasBase := roleConstraints["all"]
		if hasBase {
			for _, memberId := range memberIds {
				expanded.Genotype[memberId] = &settings.MemberConstraint{
					MinDp:    base.MinDp,
					MinAd:    base.MinAd,
					MinGq:    base.MinGq,
					MinAb:    base.MinAb,
					FailMode: base.FailMode,
				}
			}
		}
	}

	if frequencyName != "" {
		sources, ok := r.Frequency[frequencyName]
		if !ok {
			return nil, fmt.Errorf("frequency shortcut '%s': %w", frequencyName, ErrPresetNotFound)
		}
		for source, preset := range sources {
			expanded.Frequency[source] = &settings.FrequencySettings{
				Enabled:         preset.Enabled,
				MaxFrequency:    preset.MaxFrequency,
				MaxHomozygous:   preset.MaxHomozygous,
				MaxHeterozygous: preset.MaxHeterozygous,
				MaxHemizygous:   preset.MaxHemizygous,
				MaxCarriers:     preset.MaxCarriers,
			}
		}
	}

	if consequenceName != "" {
		preset, ok := r.Consequence[consequenceName]
		if !ok {
			return nil, fmt.Errorf("consequence shortcut '%s': %w", consequenceName, ErrPresetNotFound)
		}
		expanded.Consequence = preset
	}

	if locusName != "" {
		preset, ok := r.Locus[locusName]
		if !ok {
			return nil, fmt.Errorf("locus shortcut '%s': %w", locusName, ErrPresetNotFound)
		}
		expanded.Locus = preset
	}

	return expanded, nil
}

// KnownSources lists every population source named anywhere in the
// registry; submissions are validated against this list
func (r *Registry) KnownSources() []string {
	seen := map[string]bool{}
	sources := []string{}
	for _, sourceMap := range r.Frequency {
		for source := range sourceMap {
			if !seen[source] {
				seen[source] = true
				sources = append(sources, source)
			}
		}
	}
	return sources
}
