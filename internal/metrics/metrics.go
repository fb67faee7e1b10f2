package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения. Методы допускают nil-получатель,
// тогда запись метрик пропускается.
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	// Счетчики
	signups         *prometheus.CounterVec
	referralCredits *prometheus.CounterVec
	rewardPoints    prometheus.Counter
	payouts         *prometheus.CounterVec
	enrollments     *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec

	// Гистограммы
	payoutPoints prometheus.Histogram

	// Gauge метрики
	outstandingPoints prometheus.Gauge
	usersTotal        prometheus.Gauge

	mu sync.RWMutex
}

// New создает метрики и регистрирует их в собственном реестре
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),

		signups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signups_total",
				Help: "Количество регистраций по результату",
			},
			[]string{"outcome"}, // verify_email, admin_account_created, duplicate_identity, failed
		),

		referralCredits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_credits_total",
				Help: "Количество попыток начисления за приглашение",
			},
			[]string{"result"}, // applied, code_not_found, self_referral, already_credited
		),

		rewardPoints: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reward_points_credited_total",
				Help: "Общее количество начисленных баллов",
			},
		),

		payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payouts_total",
				Help: "Количество выплат по статусу",
			},
			[]string{"status"}, // completed, insufficient_balance, partial, user_not_found, failed
		),

		enrollments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollments_total",
				Help: "Количество обработанных оплат курсов",
			},
			[]string{"result"}, // created, duplicate, malformed, failed
		),

		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Количество входящих событий платежного провайдера",
			},
			[]string{"type", "status"},
		),

		payoutPoints: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payout_points",
				Help:    "Размер выплаты в баллах",
				Buckets: []float64{100, 200, 500, 1000, 2000, 5000, 10000},
			},
		),

		outstandingPoints: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outstanding_reward_points",
				Help: "Сумма невыплаченных баллов",
			},
		),

		usersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "users_total",
				Help: "Количество зарегистрированных пользователей",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signups,
		m.referralCredits,
		m.rewardPoints,
		m.payouts,
		m.enrollments,
		m.webhookEvents,
		m.payoutPoints,
		m.outstandingPoints,
		m.usersTotal,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "signups_total":
		counter = m.signups
	case "referral_credits_total":
		counter = m.referralCredits
	case "payouts_total":
		counter = m.payouts
	case "enrollments_total":
		counter = m.enrollments
	case "webhook_events_total":
		counter = m.webhookEvents
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "outstanding_reward_points":
		m.outstandingPoints.Set(value)
	case "users_total":
		m.usersTotal.Set(value)
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
	}
}

// RecordSignup записывает результат регистрации
func (m *Metrics) RecordSignup(outcome string) {
	m.IncrementCounter("signups_total", outcome)
}

// RecordReferralCredit записывает результат начисления за приглашение
func (m *Metrics) RecordReferralCredit(result string, points int) {
	if m == nil {
		return
	}
	m.IncrementCounter("referral_credits_total", result)
	if points > 0 {
		m.rewardPoints.Add(float64(points))
	}
}

// RecordPayout записывает выплату
func (m *Metrics) RecordPayout(status string, amount int) {
	if m == nil {
		return
	}
	m.IncrementCounter("payouts_total", status)
	if status == "completed" {
		m.payoutPoints.Observe(float64(amount))
	}
}

// RecordEnrollment записывает результат обработки оплаты курса
func (m *Metrics) RecordEnrollment(result string) {
	m.IncrementCounter("enrollments_total", result)
}

// RecordWebhookEvent записывает входящее событие вебхука
func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.IncrementCounter("webhook_events_total", eventType, status)
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
