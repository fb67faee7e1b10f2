// Package enrollment связывает оплату у платежного провайдера с доступом к курсу
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"write-paid/internal/metrics"
	"write-paid/internal/notify"
	"write-paid/internal/payment"
	"write-paid/internal/store"
	"write-paid/pkg/models"

	"go.uber.org/zap"
)

// ConditionMalformedNotification уведомление об оплате без обязательных метаданных
const ConditionMalformedNotification = "MalformedNotification"

const (
	metaUserID   = "userId"
	metaCourseID = "courseId"
)

var (
	// ErrMalformedNotification в уведомлении нет userId или courseId
	ErrMalformedNotification = errors.New("в уведомлении об оплате нет обязательных метаданных")
	// ErrCourseNotFound курс не найден
	ErrCourseNotFound = errors.New("курс не найден")
	// ErrAlreadyEnrolled пользователь уже имеет доступ к курсу
	ErrAlreadyEnrolled = errors.New("курс уже приобретен")
)

// PaymentProcessor создает сессии оплаты
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

// Notification уведомление о завершенной оплате
type Notification struct {
	SessionID string
	Metadata  map[string]string
}

// Service сервис зачислений
type Service struct {
	store    store.Store
	payments PaymentProcessor
	siteURL  string
	alerts   notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService создает сервис зачислений
func NewService(st store.Store, payments PaymentProcessor, siteURL string, alerts notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		payments: payments,
		siteURL:  strings.TrimRight(siteURL, "/"),
		alerts:   alerts,
		metrics:  m,
		logger:   logger,
	}
}

// CreateCheckout создает сессию оплаты курса для пользователя
func (s *Service) CreateCheckout(ctx context.Context, uid, email, courseID string) (*payment.CheckoutSession, error) {
	course, err := s.store.Course().Get(ctx, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("ошибка получения курса: %w", err)
	}

	enrolled, err := s.store.Enrollment().Exists(ctx, uid, courseID)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки доступа: %w", err)
	}
	if enrolled {
		return nil, ErrAlreadyEnrolled
	}

	coursePath := s.siteURL + "/courses/" + url.PathEscape(course.ID)
	session, err := s.payments.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		ProductName:        course.Title,
		ProductDescription: course.Description,
		UnitAmount:         course.Price,
		CustomerEmail:      email,
		SuccessURL:         coursePath + "?purchase=success",
		CancelURL:          coursePath,
		Metadata: map[string]string{
			metaUserID:   uid,
			metaCourseID: course.ID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("создана оплата курса",
		zap.String("user_id", uid),
		zap.String("course_id", course.ID),
		zap.String("session_id", session.ID))

	return session, nil
}

// HandleCheckoutCompleted выдает доступ к курсу по завершенной оплате.
// Повторное уведомление с тем же SessionID ничего не создает.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, n Notification) (*models.Enrollment, error) {
	uid := strings.TrimSpace(n.Metadata[metaUserID])
	courseID := strings.TrimSpace(n.Metadata[metaCourseID])
	if uid == "" || courseID == "" || n.SessionID == "" {
		s.metrics.RecordEnrollment("malformed")
		s.logger.Error("уведомление об оплате без метаданных",
			zap.String("condition", ConditionMalformedNotification),
			zap.String("session_id", n.SessionID),
			zap.Any("metadata", n.Metadata))
		s.alerts.Alert(ctx, ConditionMalformedNotification,
			fmt.Sprintf("session=%s metadata=%v", n.SessionID, n.Metadata))
		return nil, ErrMalformedNotification
	}

	enrollment := &models.Enrollment{
		ID:       n.SessionID,
		UserID:   uid,
		CourseID: courseID,
		OrderID:  n.SessionID,
	}
	created, err := s.store.Enrollment().CreateIfAbsent(ctx, enrollment)
	if err != nil {
		s.metrics.RecordEnrollment("failed")
		return nil, fmt.Errorf("ошибка создания зачисления: %w", err)
	}

	if !created {
		s.metrics.RecordEnrollment("duplicate")
		s.logger.Warn("повторное уведомление об оплате, зачисление уже существует",
			zap.String("session_id", n.SessionID),
			zap.String("user_id", uid),
			zap.String("course_id", courseID))
		return nil, nil
	}

	s.metrics.RecordEnrollment("created")
	s.logger.Info("пользователь зачислен на курс",
		zap.String("user_id", uid),
		zap.String("course_id", courseID),
		zap.String("session_id", n.SessionID))

	return enrollment, nil
}

// HasAccess проверяет, оплачен ли курс пользователем
func (s *Service) HasAccess(ctx context.Context, uid, courseID string) (bool, error) {
	ok, err := s.store.Enrollment().Exists(ctx, uid, courseID)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки доступа: %w", err)
	}
	return ok, nil
}

// ListForUser возвращает зачисления пользователя
func (s *Service) ListForUser(ctx context.Context, uid string) ([]*models.Enrollment, error) {
	enrollments, err := s.store.Enrollment().ListByUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения зачислений: %w", err)
	}
	return enrollments, nil
}
