package core

import (
	_ "embed"
	"fmt"
	"forecastica/pkg/api"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

type ModelOption struct {
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog lists the models that can be trained for each problem type.
type Catalog struct {
	models map[api.ProblemType][]ModelOption
}

//go:embed models.yml
var defaultCatalogYAML []byte

var DefaultCatalog = sync.OnceValue(func() *Catalog {
	catalog, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded model catalog: %v", err))
	}
	return catalog
})

func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string][]ModelOption
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing model catalog: %w", err)
	}

	catalog := &Catalog{models: make(map[api.ProblemType][]ModelOption, len(raw))}
	for key, options := range raw {
		problemType, err := api.ParseProblemType(key)
		if err != nil {
			return nil, fmt.Errorf("model catalog: %w", err)
		}
		if _, ok := catalog.models[problemType]; ok {
			return nil, fmt.Errorf("model catalog: problem type '%s' is listed twice", problemType)
		}

		seen := make(map[string]bool, len(options))
		for i, o := range options {
			if o.Name == "" {
				return nil, fmt.Errorf("model catalog: entry %d of %s has no name", i, problemType)
			}
			if seen[o.Name] {
				return nil, fmt.Errorf("model catalog: model '%s' is listed twice for %s", o.Name, problemType)
			}
			seen[o.Name] = true
			if o.Label == "" {
				options[i].Label = o.Name
			}
		}
		catalog.models[problemType] = options
	}

	if len(catalog.models) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}
	return catalog, nil
}

// LoadCatalog reads a catalog file, or returns the built in catalog when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ModelsFor never returns nil, so an unconfigured page renders an empty list.
func (c *Catalog) ModelsFor(problemType api.ProblemType) []ModelOption {
	options := slices.Clone(c.models[problemType])
	if options == nil {
		return []ModelOption{}
	}
	return options
}

func (c *Catalog) Validate(problemType api.ProblemType, model string) error {
	options, ok := c.models[problemType]
	if !ok {
		return fmt.Errorf("unknown problem type '%s'", problemType)
	}
	if !slices.ContainsFunc(options, func(o ModelOption) bool { return o.Name == model }) {
		return fmt.Errorf("model '%s' is not available for %s problems", model, problemType)
	}
	return nil
}

// Lookup finds a model by name or by the label the server uses for it.
func (c *Catalog) Lookup(problemType api.ProblemType, nameOrLabel string) (ModelOption, bool) {
	nameOrLabel = strings.TrimSpace(nameOrLabel)
	for _, o := range c.models[problemType] {
		if strings.EqualFold(o.Name, nameOrLabel) || strings.EqualFold(o.Label, nameOrLabel) {
			return o, true
		}
	}
	return ModelOption{}, false
}
