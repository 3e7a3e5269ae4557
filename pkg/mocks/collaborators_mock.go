package mocks

import (
	"context"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/dispatcher"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockSender is a mock implementation of dispatcher.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, channel models.Channel, recipient string, content dispatcher.Content) (string, error) {
	args := m.Called(ctx, channel, recipient, content)

	return args.String(0), args.Error(1)
}

// MockCustomerProfiles is a mock implementation of dispatcher.CustomerProfiles.
type MockCustomerProfiles struct {
	mock.Mock
}

func (m *MockCustomerProfiles) UpdateTags(ctx context.Context, customerID string, add, remove []string) error {
	args := m.Called(ctx, customerID, add, remove)

	return args.Error(0)
}

// MockPromotions is a mock implementation of dispatcher.Promotions.
type MockPromotions struct {
	mock.Mock
}

func (m *MockPromotions) ApplyDiscount(ctx context.Context, customerID string, discount models.DiscountConfig, reference string) (string, error) {
	args := m.Called(ctx, customerID, discount, reference)

	return args.String(0), args.Error(1)
}

// MockFactsProvider is a mock implementation of facts.Provider.
type MockFactsProvider struct {
	mock.Mock
}

func (m *MockFactsProvider) Facts(ctx context.Context, subject models.Subject) (conditions.Facts, error) {
	args := m.Called(ctx, subject)

	f, _ := args.Get(0).(conditions.Facts)

	return f, args.Error(1)
}
