package cmd

import (
	"log/slog"

	"github.com/dukex/cartflow/pkg/dispatcher"
	"github.com/dukex/cartflow/pkg/facts"
	"github.com/dukex/cartflow/pkg/gateway/httpgateway"
	"github.com/dukex/cartflow/pkg/gateway/loggateway"
)

// Gateway is every outside collaborator of the engine behind one endpoint.
type Gateway interface {
	dispatcher.Sender
	dispatcher.CustomerProfiles
	dispatcher.Promotions
	facts.Provider
}

// NewGateway calls the HTTP gateway at gatewayURL, or only logs when it is empty.
//
// nolint:ireturn
func NewGateway(gatewayURL string, logger *slog.Logger) Gateway {
	if gatewayURL == "" {
		return loggateway.New(logger)
	}

	return httpgateway.New(gatewayURL)
}
