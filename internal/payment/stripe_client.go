package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

// EventCheckoutCompleted событие успешной оплаты сессии
const EventCheckoutCompleted = "checkout.session.completed"

var (
	// ErrInvalidSignature подпись вебхука отсутствует или не совпадает
	ErrInvalidSignature = errors.New("неверная подпись вебхука")
	// ErrMalformedEvent подпись верна, но объект события не разбирается
	ErrMalformedEvent = errors.New("некорректный объект события")
)

// CheckoutRequest параметры сессии оплаты одного курса
type CheckoutRequest struct {
	ProductName        string
	ProductDescription string
	UnitAmount         int64 // в центах
	CustomerEmail      string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
}

// CheckoutSession созданная сессия оплаты
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Event проверенное событие платежного провайдера
type Event struct {
	ID        string
	Type      string
	SessionID string
	Metadata  map[string]string
}

// StripeClient представляет клиент для работы со Stripe API
type StripeClient struct {
	api           *client.API
	webhookSecret string
	currency      string
	logger        *zap.Logger
}

// NewStripeClient создает новый клиент Stripe
func NewStripeClient(secretKey, webhookSecret, currency string, logger *zap.Logger) *StripeClient {
	return &StripeClient{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		currency:      currency,
		logger:        logger,
	}
}

// CreateCheckoutSession создает сессию оплаты с одной позицией
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(c.currency),
					UnitAmount: stripe.Int64(req.UnitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.ProductName),
						Description: stripe.String(req.ProductDescription),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания сессии оплаты: %w", err)
	}

	c.logger.Info("создана сессия оплаты",
		zap.String("session_id", session.ID),
		zap.Int64("amount", req.UnitAmount),
		zap.String("currency", c.currency))

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ParseEvent проверяет подпись и разбирает событие вебхука
func (c *StripeClient) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: заголовок отсутствует", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:   event.ID,
		Type: string(event.Type),
	}

	if out.Type == EventCheckoutCompleted && event.Data != nil {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: сессия оплаты: %v", ErrMalformedEvent, err)
		}
		out.SessionID = session.ID
		out.Metadata = session.Metadata
	}

	return out, nil
}
