// Package file provides file-based persistence for single-process deployments and tests.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/cartflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root        string
	automations *AutomationRepository
	executions  *ExecutionRepository
	templates   *TemplateRepository
}

// NewPersistence creates the directory layout under root and returns the file persistence.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{automationsDir, snapshotsDir, executionsDir, dedupeDir, templatesDir} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	executions := NewExecutionRepository(cleanRoot)

	return &Persistence{
		root:        cleanRoot,
		automations: NewAutomationRepository(cleanRoot, executions),
		executions:  executions,
		templates:   NewTemplateRepository(cleanRoot),
	}, nil
}

func (fp *Persistence) AutomationRepository() persistence.AutomationRepository {
	return fp.automations
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executions
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templates
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); err != nil {
		return fmt.Errorf("persistence root unavailable: %w", err)
	}

	return nil
}
