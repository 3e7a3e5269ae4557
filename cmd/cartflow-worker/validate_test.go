package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGraph(t *testing.T, g *models.Graph) string {
	t.Helper()

	data, err := json.Marshal(g)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, data, 0600))

	return path
}

func TestValidateFile_Valid(t *testing.T) {
	var out bytes.Buffer

	err := validateFile(writeGraph(t, testutil.FirstOrderThankYouGraph()), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "VALID")
}

func TestValidateFile_ReportsViolations(t *testing.T) {
	g := testutil.FirstOrderThankYouGraph()
	g.Edges = append(g.Edges, testutil.Edge("vip", "wait"))

	var out bytes.Buffer

	err := validateFile(writeGraph(t, g), &out)
	require.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, out.String(), "cycle")
}

func TestValidateFile_MissingFile(t *testing.T) {
	var out bytes.Buffer

	err := validateFile(filepath.Join(t.TempDir(), "missing.json"), &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidGraph)
}
