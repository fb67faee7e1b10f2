package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"write-paid/internal/enrollment"
	"write-paid/internal/metrics"
	"write-paid/internal/payment"
	"write-paid/pkg/models"

	"go.uber.org/zap"
)

// MaxBodyBytes максимальный размер тела вебхука
const MaxBodyBytes = 64 << 10

// SignatureHeader заголовок с подписью Stripe
const SignatureHeader = "Stripe-Signature"

// EventParser проверяет подпись и разбирает событие
type EventParser interface {
	ParseEvent(payload []byte, signatureHeader string) (*payment.Event, error)
}

// CheckoutCompleter обрабатывает завершенную оплату
type CheckoutCompleter interface {
	HandleCheckoutCompleted(ctx context.Context, n enrollment.Notification) (*models.Enrollment, error)
}

// StripeHandler обрабатывает webhook'и от Stripe
type StripeHandler struct {
	parser    EventParser
	completer CheckoutCompleter
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewStripeHandler создает новый обработчик webhook'ов
func NewStripeHandler(parser EventParser, completer CheckoutCompleter, m *metrics.Metrics, logger *zap.Logger) *StripeHandler {
	return &StripeHandler{
		parser:    parser,
		completer: completer,
		metrics:   m,
		logger:    logger,
	}
}

// ServeHTTP обрабатывает входящий webhook от Stripe
func (h *StripeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("неверный метод webhook запроса", zap.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.logger.Warn("ошибка чтения тела webhook'а", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.metrics.RecordWebhookEvent("unknown", "unsigned")
		h.logger.Warn("webhook без подписи")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	event, err := h.parser.ParseEvent(body, signature)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		h.metrics.RecordWebhookEvent("unknown", "invalid_signature")
		h.logger.Warn("неверная подпись webhook'а", zap.Error(err))
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	case err != nil:
		h.metrics.RecordWebhookEvent("unknown", "malformed_event")
		h.logger.Error("ошибка разбора события webhook'а", zap.Error(err))
		http.Error(w, "Malformed event", http.StatusBadRequest)
		return
	}

	h.logger.Info("получен webhook от Stripe",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type))

	switch event.Type {
	case payment.EventCheckoutCompleted:
		_, err := h.completer.HandleCheckoutCompleted(r.Context(), enrollment.Notification{
			SessionID: event.SessionID,
			Metadata:  event.Metadata,
		})
		switch {
		case errors.Is(err, enrollment.ErrMalformedNotification):
			h.metrics.RecordWebhookEvent(event.Type, "malformed")
			http.Error(w, "Missing metadata", http.StatusBadRequest)
			return
		case err != nil:
			h.metrics.RecordWebhookEvent(event.Type, "failed")
			h.logger.Error("ошибка обработки оплаты",
				zap.String("event_id", event.ID),
				zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		h.metrics.RecordWebhookEvent(event.Type, "processed")
	default:
		h.metrics.RecordWebhookEvent(event.Type, "ignored")
		h.logger.Debug("событие webhook'а не обрабатывается", zap.String("type", event.Type))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
