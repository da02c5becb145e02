// Package config loads the Aria catalogs (models.yaml, the agents markdown
// manifest, cron_jobs.yaml) and process environment settings, validates the
// result, and watches the source files for hot reload.
package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/aria-agents/aria/pkg/models"
)

// Source file names inside the config directory.
const (
	ModelsFileName = "models.yaml"
	AgentsFileName = "agents.md"
	JobsFileName   = "cron_jobs.yaml"
)

// Catalog is the parsed and validated view of the configuration sources.
// It is immutable after Initialize; hot reload produces a fresh Catalog.
type Catalog struct {
	configDir string

	Models  []models.Model
	Agents  []models.Agent
	Jobs    []models.ScheduledJob
	Routing RoutingYAML
}

// Initialize loads, validates and returns a ready-to-use catalog.
func Initialize(ctx context.Context, configDir string) (*Catalog, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Loading configuration catalogs")

	modelsFile, err := LoadModelsFile(filepath.Join(configDir, ModelsFileName))
	if err != nil {
		return nil, err
	}

	agentEntries, err := LoadAgentsManifest(filepath.Join(configDir, AgentsFileName))
	if err != nil {
		return nil, err
	}

	jobsFile, err := LoadJobsFile(filepath.Join(configDir, JobsFileName))
	if err != nil {
		return nil, err
	}
	jobs, err := jobsFile.Declared()
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		configDir: configDir,
		Models:    modelsFile.Declared(),
		Agents:    DeclaredAgents(agentEntries),
		Jobs:      jobs,
		Routing:   modelsFile.Routing,
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration loaded",
		"models", len(c.Models),
		"agents", len(c.Agents),
		"jobs", len(c.Jobs))
	return c, nil
}

// ConfigDir returns the catalog's source directory.
func (c *Catalog) ConfigDir() string { return c.configDir }

// SourcePaths returns the absolute paths of the three catalog files, for the
// reload watcher.
func (c *Catalog) SourcePaths() []string {
	return []string{
		filepath.Join(c.configDir, ModelsFileName),
		filepath.Join(c.configDir, AgentsFileName),
		filepath.Join(c.configDir, JobsFileName),
	}
}
