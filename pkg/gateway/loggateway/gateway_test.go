package loggateway_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/dukex/cartflow/pkg/dispatcher"
	"github.com/dukex/cartflow/pkg/gateway/loggateway"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway(t *testing.T) {
	var buf bytes.Buffer

	g := loggateway.New(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	id, err := g.Send(ctx, models.ChannelEmail, "ana@example.com", dispatcher.Content{Subject: "Hi", Reference: "exec-1:vip"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Contains(t, buf.String(), `"reference":"exec-1:vip"`)

	code, err := g.ApplyDiscount(ctx, "cust-1", models.DiscountConfig{Type: models.DiscountFixed, Amount: 5, Prefix: "WELCOME"}, "exec-1:d")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "WELCOME-"))

	facts, err := g.Facts(ctx, models.Subject{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Empty(t, facts)
}
