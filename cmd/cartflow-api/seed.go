package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/cartflow/pkg/cmd"
	"github.com/dukex/cartflow/pkg/config"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/services"
	"github.com/urfave/cli/v3"
)

func NewSeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Import templates and automations from a YAML or JSON bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Bundle file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := slog.With(
				"module", "cartflow-api",
				"action", "seed",
			)

			bundle, err := config.LoadBundle(command.String("file"))
			if err != nil {
				return err
			}

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := p.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			summary, err := seed(ctx, p, bundle, logger)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(os.Stdout, "Imported %d templates and %d automations (%d active)\n",
				summary.templates, summary.automations, summary.activated)

			return nil
		},
	}
}

type seedSummary struct {
	templates   int
	automations int
	activated   int
}

// seed saves the bundle. Automations are always created as new drafts, so
// seeding twice creates them twice.
func seed(ctx context.Context, p persistence.Persistence, bundle *config.Bundle, logger *slog.Logger) (seedSummary, error) {
	var summary seedSummary

	templateService := services.NewTemplate(p.TemplateRepository())
	automationService := services.NewAutomation(p, nil, nil, logger)

	for _, tmpl := range bundle.Templates {
		if _, err := templateService.Save(ctx, tmpl); err != nil {
			return summary, fmt.Errorf("template %s: %w", tmpl.ID, err)
		}

		summary.templates++
	}

	for _, entry := range bundle.Automations {
		automation, err := entry.ToAutomation()
		if err != nil {
			return summary, fmt.Errorf("automation %q: %w", entry.Name, err)
		}

		created, err := automationService.Create(ctx, automation)
		if err != nil {
			return summary, fmt.Errorf("automation %q: %w", entry.Name, err)
		}

		summary.automations++

		if !entry.Activate {
			continue
		}

		if _, err := automationService.Activate(ctx, created.ID); err != nil {
			return summary, fmt.Errorf("automation %q: %w", entry.Name, err)
		}

		summary.activated++
	}

	return summary, nil
}
