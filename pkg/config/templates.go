package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agent-protocol/sandbox-orchestrator/pkg/daytona"
)

// Template is a named preset configuration used to provision a sandbox.
type Template struct {
	ID                string   `yaml:"id" json:"id"`
	Name              string   `yaml:"name" json:"name"`
	Description       string   `yaml:"description" json:"description,omitempty"`
	BaseImage         string   `yaml:"base_image" json:"baseImage"`
	InstalledPackages []string `yaml:"installed_packages" json:"installedPackages,omitempty"`
	SetupCommands     []string `yaml:"setup_commands" json:"setupCommands,omitempty"`
}

// Catalog is a lookup table of sandbox templates keyed by template ID.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*Template
	order     []string
}

// DefaultCatalog returns the built-in template catalog.
func DefaultCatalog() *Catalog {
	catalog := &Catalog{templates: make(map[string]*Template)}
	for _, tmpl := range defaultTemplates() {
		catalog.add(tmpl)
	}
	return catalog
}

// LoadCatalog reads a template catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}

	var doc struct {
		Templates []*Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse templates file: %w", err)
	}
	if len(doc.Templates) == 0 {
		return nil, fmt.Errorf("templates file %s defines no templates", path)
	}

	catalog := &Catalog{templates: make(map[string]*Template)}
	for _, tmpl := range doc.Templates {
		if tmpl.ID == "" {
			return nil, fmt.Errorf("template missing id in %s", path)
		}
		catalog.add(tmpl)
	}
	return catalog, nil
}

// Get looks up a template by ID.
func (c *Catalog) Get(id string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.templates[id]
	return tmpl, ok
}

// List returns all templates in registration order.
func (c *Catalog) List() []*Template {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Template, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.templates[id])
	}
	return result
}

func (c *Catalog) add(tmpl *Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.templates[tmpl.ID]; !exists {
		c.order = append(c.order, tmpl.ID)
	}
	c.templates[tmpl.ID] = tmpl
}

// defaultTemplates returns the built-in development environment presets.
func defaultTemplates() []*Template {
	return []*Template{
		{
			ID:                "python-dev",
			Name:              "Python Development Environment",
			Description:       "Environment for Python development with common tools and libraries",
			BaseImage:         "python:3.12",
			InstalledPackages: []string{"pytest", "black", "isort", "mypy", "flake8"},
			SetupCommands:     []string{"pip install -r requirements.txt"},
		},
		{
			ID:                "node-dev",
			Name:              "Node.js Development Environment",
			Description:       "Environment for Node.js development with common tools and libraries",
			BaseImage:         "node:20",
			InstalledPackages: []string{"typescript", "eslint", "prettier", "jest"},
			SetupCommands:     []string{"npm install"},
		},
		{
			ID:            "go-dev",
			Name:          "Go Development Environment",
			Description:   "Environment for Go development with common tools and libraries",
			BaseImage:     "golang:1.24",
			SetupCommands: []string{"go mod download"},
		},
	}
}

// resourcePresets maps a size name to a resource configuration.
var resourcePresets = map[string]daytona.ResourceConfig{
	"small":  {CPU: "1", Memory: "2Gi", Disk: "10Gi"},
	"medium": {CPU: "2", Memory: "4Gi", Disk: "20Gi"},
	"large":  {CPU: "4", Memory: "8Gi", Disk: "40Gi"},
}

// ResourcePreset returns the resource configuration for a size name.
func ResourcePreset(size string) (*daytona.ResourceConfig, bool) {
	preset, ok := resourcePresets[size]
	if !ok {
		return nil, false
	}
	cfg := preset
	return &cfg, true
}
