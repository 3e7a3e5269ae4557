// Package loggateway is a development gateway that logs side effects instead of performing them.
package loggateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/dispatcher"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/google/uuid"
)

type Gateway struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Gateway {
	return &Gateway{logger: logger.With("module", "loggateway")}
}

func (g *Gateway) Send(ctx context.Context, channel models.Channel, recipient string, content dispatcher.Content) (string, error) {
	id := uuid.New().String()

	g.logger.InfoContext(ctx, "send",
		"channel", channel,
		"recipient", recipient,
		"subject", content.Subject,
		"reference", content.Reference,
		"message_id", id)

	return id, nil
}

func (g *Gateway) UpdateTags(ctx context.Context, customerID string, add, remove []string) error {
	g.logger.InfoContext(ctx, "update tags", "customer_id", customerID, "add", add, "remove", remove)

	return nil
}

func (g *Gateway) ApplyDiscount(ctx context.Context, customerID string, discount models.DiscountConfig, reference string) (string, error) {
	prefix := discount.Prefix
	if prefix == "" {
		prefix = "CART"
	}

	code := prefix + "-" + strings.ToUpper(uuid.New().String()[:8])

	g.logger.InfoContext(ctx, "apply discount",
		"customer_id", customerID,
		"type", discount.Type,
		"amount", discount.Amount,
		"reference", reference,
		"code", code)

	return code, nil
}

// Facts returns no extra facts; conditions see the trigger payload only.
func (g *Gateway) Facts(context.Context, models.Subject) (conditions.Facts, error) {
	return conditions.Facts{}, nil
}
