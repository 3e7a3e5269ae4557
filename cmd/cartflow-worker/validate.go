package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/config"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/urfave/cli/v3"
)

var ErrInvalidGraph = errors.New("graph is invalid")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate an automation graph file (JSON or YAML, engine or editor format)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Graph file",
				Required: true,
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			return validateFile(command.String("file"), os.Stdout)
		},
	}
}

func validateFile(path string, out io.Writer) error {
	g, err := config.LoadGraph(path)
	if err != nil {
		return err
	}

	result := graph.ValidateWith(g, conditions.Default())

	_, _ = fmt.Fprintf(out, "Graph: %s (%d nodes, %d edges)\n", path, len(g.Nodes), len(g.Edges))

	if result.Valid() {
		_, _ = fmt.Fprintln(out, "  ✅ VALID")

		return nil
	}

	for _, v := range result.Violations {
		_, _ = fmt.Fprintf(out, "  ❌ %s\n", v)
	}

	return fmt.Errorf("%w: %d violations", ErrInvalidGraph, len(result.Violations))
}
