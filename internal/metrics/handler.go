package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger проверяет доступность зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler обрабатывает HTTP запросы для метрик и проверки здоровья
type Handler struct {
	metrics *Metrics
	db      Pinger
	logger  *zap.Logger
}

// NewHandler создает новый обработчик метрик
func NewHandler(metrics *Metrics, db Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		metrics: metrics,
		db:      db,
		logger:  logger,
	}
}

// MetricsHandler возвращает HTTP handler для Prometheus метрик
func (h *Handler) MetricsHandler() http.Handler {
	return h.metrics.Handler()
}

// HealthHandler возвращает статус здоровья сервиса
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("проверка здоровья: база данных недоступна", zap.Error(err))
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "service": "write-paid"})
}
