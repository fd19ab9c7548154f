package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vestpay/backend/internal/gateway"
	"github.com/vestpay/backend/internal/models"
)

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitiateResponse), args.Error(1)
}

func (m *MockPaymentGateway) ParseWebhookEvent(signature string, body []byte) (*gateway.WebhookEvent, error) {
	args := m.Called(signature, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WebhookEvent), args.Error(1)
}

type MockPayoutSender struct {
	mock.Mock
}

func (m *MockPayoutSender) SendPayout(ctx context.Context, req *models.WithdrawalRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}
