// Package cyclespec loads the YAML files the demo CLI submits to the
// engine: a list of cycles, each naming the story it belongs to, its
// priority, dependencies, resources, and agent type.
package cyclespec

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/paracycle/internal/orchestration/engine"
)

// File is the on-disk shape of a cycle-spec YAML document.
type File struct {
	Cycles []Cycle `yaml:"cycles"`
}

// Cycle is one cycle entry in a cycle-spec file.
type Cycle struct {
	StoryID           string   `yaml:"story_id"`
	Priority          int      `yaml:"priority"`
	Dependencies      []string `yaml:"dependencies"`
	EstimatedDuration string   `yaml:"estimated_duration"` // Go duration string, e.g. "10m"
	Resources         []string `yaml:"resources"`
	AgentType         string   `yaml:"agent_type"`
}

// Load reads and parses a cycle-spec YAML file from path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading cycle spec %q: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing cycle spec %q: %w", path, err)
	}
	for i, c := range f.Cycles {
		if c.StoryID == "" {
			return File{}, fmt.Errorf("cycle spec %q: cycle %d missing story_id", path, i)
		}
	}
	return f, nil
}

// ToCycleSpecs converts the file's entries into engine.CycleSpec values
// ready for Engine.Submit or Engine.ExecuteParallelCycles.
func (f File) ToCycleSpecs() ([]engine.CycleSpec, error) {
	specs := make([]engine.CycleSpec, 0, len(f.Cycles))
	for _, c := range f.Cycles {
		var dur time.Duration
		if c.EstimatedDuration != "" {
			parsed, err := time.ParseDuration(c.EstimatedDuration)
			if err != nil {
				return nil, fmt.Errorf("cycle %q: invalid estimated_duration %q: %w", c.StoryID, c.EstimatedDuration, err)
			}
			dur = parsed
		}
		specs = append(specs, engine.CycleSpec{
			StoryID:           c.StoryID,
			Priority:          c.Priority,
			Dependencies:      c.Dependencies,
			EstimatedDuration: dur,
			Resources:         c.Resources,
			AgentType:         c.AgentType,
		})
	}
	return specs, nil
}
