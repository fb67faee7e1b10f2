// Package httpapi HTTP интерфейс сервиса: публичные формы, кабинет пользователя,
// панель администратора и прием уведомлений платежного провайдера.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"write-paid/internal/captcha"
	"write-paid/internal/config"
	"write-paid/internal/course"
	"write-paid/internal/enrollment"
	"write-paid/internal/identity"
	"write-paid/internal/lead"
	"write-paid/internal/media"
	"write-paid/internal/metrics"
	"write-paid/internal/payout"
	"write-paid/internal/referral"
	"write-paid/internal/signup"
	"write-paid/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Uploader выдает подписанные ссылки загрузки медиа
type Uploader interface {
	SignUpload(ctx context.Context, filename, contentType string) (*media.Upload, error)
}

// Services зависимости обработчиков
type Services struct {
	Signup      *signup.Workflow
	Captcha     *captcha.Service
	Referrals   *referral.Service
	Users       *user.Service
	Courses     *course.Service
	Leads       *lead.Service
	Payouts     *payout.Service
	Enrollments *enrollment.Service
	// Media может отсутствовать, если хранилище не настроено
	Media    Uploader
	Identity identity.Provider
	Webhook  http.Handler
	Health   *metrics.Handler
}

// Server HTTP сервер API
type Server struct {
	svc     Services
	cfg     config.Config
	limiter *RateLimiter
	router  chi.Router
	logger  *zap.Logger
}

// NewServer собирает маршруты API
func NewServer(cfg config.Config, svc Services, limiter *RateLimiter, logger *zap.Logger) *Server {
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit.SignupPerMinute, cfg.RateLimit.SignupBurst)
	}
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	if s.cfg.App.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	if s.svc.Health != nil {
		r.Get("/health", s.svc.Health.HealthHandler)
		r.Handle("/metrics", s.svc.Health.MetricsHandler())
	}
	if s.svc.Webhook != nil {
		r.Handle("/webhook/stripe", s.svc.Webhook)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/captcha", s.handleCaptcha)
		r.With(s.limiter.Middleware).Post("/signup", s.handleSignup)
		r.With(s.limiter.Middleware).Post("/leads", s.handleCaptureLead)
		r.Get("/referrals/{code}/referrer", s.handleReferrerName)
		r.Get("/courses", s.handleListCourses)
		r.Get("/courses/{id}", s.handleGetCourse)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/me", s.handleMe)
			r.Get("/me/referrals", s.handleReferralSummary)
			r.Get("/me/referrals/qr", s.handleReferralQR)
			r.Get("/me/enrollments", s.handleMyEnrollments)
			r.Get("/courses/{id}/access", s.handleCourseAccess)
			r.Post("/courses/{id}/checkout", s.handleCheckout)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/overview", s.handleOverview)
				r.Get("/leads", s.handleListLeads)
				r.Get("/payouts/pending", s.handlePendingRewards)
				r.Get("/payouts", s.handlePayoutHistory)
				r.Post("/payouts", s.handlePayout)
				r.Post("/courses", s.handleAddCourse)
				r.Post("/media/sign", s.handleSignUpload)
			})
		})
	})

	return r
}

// ServeHTTP реализует http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Limiter ограничитель частоты, нужен планировщику для очистки
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP запрос",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
