// Package config loads automation bundles and graph files kept on disk.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrEmptyBundle = errors.New("bundle has no templates or automations")

// Bundle is a set of templates and automations to import into a store.
type Bundle struct {
	Templates   []*models.MessageTemplate `json:"templates"`
	Automations []*BundleAutomation       `json:"automations"`
}

// BundleAutomation is an automation as written in a bundle. Either Graph or
// Editor holds its graph.
type BundleAutomation struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Activate    bool               `json:"activate"`
	Graph       *models.Graph      `json:"graph,omitempty"`
	Editor      *graph.EditorGraph `json:"editor,omitempty"`
}

// ToAutomation resolves the graph of the entry.
func (b *BundleAutomation) ToAutomation() (*models.Automation, error) {
	g := b.Graph

	if g == nil && b.Editor != nil {
		converted, err := graph.FromEditor(*b.Editor)
		if err != nil {
			return nil, err
		}

		g = converted
	}

	return &models.Automation{Name: b.Name, Description: b.Description, Graph: g}, nil
}

// LoadBundle reads a bundle from a YAML or JSON file.
func LoadBundle(path string) (*Bundle, error) {
	var bundle Bundle
	if err := decodeFile(path, &bundle); err != nil {
		return nil, err
	}

	if err := ValidateBundle(&bundle); err != nil {
		return nil, err
	}

	return &bundle, nil
}

// ValidateBundle checks that every entry can be imported. Graph structure is
// left to graph.Validate.
func ValidateBundle(bundle *Bundle) error {
	if len(bundle.Templates) == 0 && len(bundle.Automations) == 0 {
		return ErrEmptyBundle
	}

	for i, tmpl := range bundle.Templates {
		if tmpl.ID == "" {
			return fmt.Errorf("templates[%d]: id is required", i)
		}

		if tmpl.Body == "" {
			return fmt.Errorf("templates[%d]: body is required", i)
		}
	}

	for i, automation := range bundle.Automations {
		if automation.Name == "" {
			return fmt.Errorf("automations[%d]: name is required", i)
		}

		if automation.Graph == nil && automation.Editor == nil {
			return fmt.Errorf("automations[%d]: graph or editor is required", i)
		}
	}

	return nil
}

// LoadGraph reads a single graph from a YAML or JSON file. Editor documents,
// whose nodes carry "type" instead of "kind", are converted.
func LoadGraph(path string) (*models.Graph, error) {
	var shape struct {
		Nodes []map[string]any `json:"nodes"`
	}
	if err := decodeFile(path, &shape); err != nil {
		return nil, err
	}

	if isEditorDocument(shape.Nodes) {
		var doc graph.EditorGraph
		if err := decodeFile(path, &doc); err != nil {
			return nil, err
		}

		return graph.FromEditor(doc)
	}

	var g models.Graph
	if err := decodeFile(path, &g); err != nil {
		return nil, err
	}

	return &g, nil
}

func isEditorDocument(nodes []map[string]any) bool {
	for _, n := range nodes {
		_, hasKind := n["kind"]
		_, hasType := n["type"]

		if hasType && !hasKind {
			return true
		}
	}

	return false
}

// decodeFile decodes JSON directly and YAML through its JSON form, so the
// models' json tags apply to both.
func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse YAML file %s: %w", path, err)
		}

		data, err = json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to convert YAML file %s: %w", path, err)
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse file %s: %w", path, err)
	}

	return nil
}
