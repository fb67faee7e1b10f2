package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"write-paid/internal/notify"
	"write-paid/internal/payment"
	"write-paid/internal/store/memstore"
	"write-paid/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []payment.CheckoutRequest
	err      error
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &payment.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

type recordingNotifier struct {
	titles []string
}

func (n *recordingNotifier) Alert(ctx context.Context, title, details string) {
	n.titles = append(n.titles, title)
}

func seedCourse(t *testing.T, st *memstore.Store, id string) {
	t.Helper()
	require.NoError(t, st.Course().Create(context.Background(), &models.Course{
		ID:          id,
		Slug:        id,
		Title:       "Course " + id,
		Description: "Everything about " + id,
		Price:       9900,
	}))
}

func TestCreateCheckout(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seedCourse(t, st, "c1")
	processor := &fakeProcessor{}
	svc := NewService(st, processor, "https://writeandpaid.com/", notify.NewLogNotifier(zap.NewNop()), nil, zap.NewNop())

	session, err := svc.CreateCheckout(ctx, "u1", "u1@example.com", "c1")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)

	require.Len(t, processor.requests, 1)
	req := processor.requests[0]
	assert.Equal(t, "Course c1", req.ProductName)
	assert.Equal(t, int64(9900), req.UnitAmount)
	assert.Equal(t, "https://writeandpaid.com/courses/c1?purchase=success", req.SuccessURL)
	assert.Equal(t, "https://writeandpaid.com/courses/c1", req.CancelURL)
	assert.Equal(t, map[string]string{"userId": "u1", "courseId": "c1"}, req.Metadata)
}

func TestCreateCheckoutRejections(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seedCourse(t, st, "c1")
	processor := &fakeProcessor{}
	svc := NewService(st, processor, "https://writeandpaid.com", notify.NewLogNotifier(zap.NewNop()), nil, zap.NewNop())

	_, err := svc.CreateCheckout(ctx, "u1", "", "missing")
	assert.ErrorIs(t, err, ErrCourseNotFound)

	_, err = svc.HandleCheckoutCompleted(ctx, Notification{
		SessionID: "cs_paid",
		Metadata:  map[string]string{"userId": "u1", "courseId": "c1"},
	})
	require.NoError(t, err)

	_, err = svc.CreateCheckout(ctx, "u1", "", "c1")
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	assert.Empty(t, processor.requests)

	processor.err = errors.New("stripe недоступен")
	_, err = svc.CreateCheckout(ctx, "u2", "", "c1")
	assert.Error(t, err)
}

func TestHandleCheckoutCompletedCreatesOneEnrollment(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	core, logs := observer.New(zapcore.InfoLevel)
	svc := NewService(st, &fakeProcessor{}, "https://writeandpaid.com", notify.NewLogNotifier(zap.NewNop()), nil, zap.New(core))

	n := Notification{
		SessionID: "cs_test_1",
		Metadata:  map[string]string{"userId": "u1", "courseId": "c1"},
	}

	enrollment, err := svc.HandleCheckoutCompleted(ctx, n)
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, "u1", enrollment.UserID)
	assert.Equal(t, "c1", enrollment.CourseID)
	assert.Equal(t, "cs_test_1", enrollment.OrderID)

	// Повтор того же уведомления
	again, err := svc.HandleCheckoutCompleted(ctx, n)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	list, err := svc.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	ok, err := svc.HasAccess(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAccess(ctx, "u2", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleCheckoutCompletedMalformed(t *testing.T) {
	tests := []struct {
		name string
		n    Notification
	}{
		{name: "нет userId", n: Notification{SessionID: "cs", Metadata: map[string]string{"courseId": "c1"}}},
		{name: "нет courseId", n: Notification{SessionID: "cs", Metadata: map[string]string{"userId": "u1"}}},
		{name: "нет метаданных", n: Notification{SessionID: "cs"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := memstore.New()
			core, logs := observer.New(zapcore.InfoLevel)
			alerts := &recordingNotifier{}
			svc := NewService(st, &fakeProcessor{}, "https://writeandpaid.com", alerts, nil, zap.New(core))

			_, err := svc.HandleCheckoutCompleted(ctx, tt.n)
			assert.ErrorIs(t, err, ErrMalformedNotification)

			assert.Equal(t, 1, logs.FilterField(zap.String("condition", ConditionMalformedNotification)).Len())
			assert.Equal(t, []string{ConditionMalformedNotification}, alerts.titles)

			list, err := svc.ListForUser(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestHandleCheckoutCompletedStoreFailure(t *testing.T) {
	st := memstore.New()
	st.FailOn("enrollments.CreateIfAbsent", errors.New("нет соединения"))
	svc := NewService(st, &fakeProcessor{}, "https://writeandpaid.com", notify.NewLogNotifier(zap.NewNop()), nil, zap.NewNop())

	_, err := svc.HandleCheckoutCompleted(context.Background(), Notification{
		SessionID: "cs",
		Metadata:  map[string]string{"userId": "u1", "courseId": "c1"},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedNotification)
}
