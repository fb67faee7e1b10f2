// Package signup реализует регистрацию пользователя: учетная запись у провайдера
// идентификации, профиль, реферальный код и начисление пригласившему.
package signup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"write-paid/internal/captcha"
	"write-paid/internal/identity"
	"write-paid/internal/ledger"
	"write-paid/internal/metrics"
	"write-paid/internal/notify"
	"write-paid/internal/referral"
	"write-paid/internal/store"
	"write-paid/pkg/models"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ConditionOrphanedIdentity критическое состояние: учетная запись осталась без профиля
const ConditionOrphanedIdentity = "OrphanedIdentityCleanupFailure"

const cleanupTimeout = 10 * time.Second

var (
	// ErrInvalidRequest данные формы не прошли валидацию
	ErrInvalidRequest = errors.New("некорректные данные регистрации")
	// ErrHumanCheckFailed проверка CAPTCHA не пройдена
	ErrHumanCheckFailed = errors.New("проверка CAPTCHA не пройдена")
	// ErrProfilePersist профиль не сохранен, учетная запись удалена
	ErrProfilePersist = errors.New("не удалось сохранить профиль")
	// ErrUsernameTaken имя пользователя уже занято
	ErrUsernameTaken = errors.New("имя пользователя занято")
)

// Outcome куда направить пользователя после регистрации
type Outcome string

const (
	OutcomeVerifyEmail  Outcome = "verify_email"
	OutcomeAdminCreated Outcome = "admin_account_created"
)

// Request данные формы регистрации
type Request struct {
	FirstName       string `json:"firstName" validate:"required,max=100"`
	LastName        string `json:"lastName" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email,max=254"`
	Phone           string `json:"phone" validate:"required,max=32"`
	Username        string `json:"username" validate:"required,max=50"`
	Country         string `json:"country" validate:"required,max=100"`
	State           string `json:"state" validate:"required,max=100"`
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	AcceptTerms     bool   `json:"terms" validate:"required"`
	ReferralCode    string `json:"referralCode" validate:"max=64"`
	CaptchaID       string `json:"captchaId"`
	CaptchaAnswer   string `json:"captchaAnswer"`
}

func (r *Request) normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	r.Username = strings.TrimSpace(r.Username)
	r.Country = strings.TrimSpace(r.Country)
	r.State = strings.TrimSpace(r.State)
	r.ReferralCode = strings.TrimSpace(r.ReferralCode)
}

// referredBy возвращает входящий код в том виде, в каком он сохраняется в профиле
func (r *Request) referredBy() *string {
	if r.ReferralCode == "" {
		return nil
	}
	code := r.ReferralCode
	if normalized, ok := referral.Normalize(code); ok {
		code = normalized
	}
	return &code
}

// Result результат успешной регистрации
type Result struct {
	UID          string  `json:"uid"`
	ReferralCode string  `json:"referralCode"`
	IsAdmin      bool    `json:"isAdmin"`
	Outcome      Outcome `json:"outcome"`
	Message      string  `json:"message"`
}

// HumanCheck проверка CAPTCHA
type HumanCheck interface {
	Verify(ctx context.Context, id, answer string) error
}

// Workflow сценарий регистрации
type Workflow struct {
	store    store.Store
	identity identity.Provider
	registry *referral.Registry
	ledger   *ledger.Ledger
	check    HumanCheck
	alerts   notify.Notifier
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *zap.Logger
}

// NewWorkflow создает сценарий регистрации
func NewWorkflow(
	st store.Store,
	provider identity.Provider,
	registry *referral.Registry,
	ldg *ledger.Ledger,
	check HumanCheck,
	alerts notify.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{
		store:    st,
		identity: provider,
		registry: registry,
		ledger:   ldg,
		check:    check,
		alerts:   alerts,
		metrics:  m,
		validate: newValidator(),
		logger:   logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Register выполняет регистрацию. Шаги строго последовательны: учетная запись,
// письмо подтверждения, затем в одной транзакции выданная роль, реферальный код,
// профиль и начисление пригласившему. При ошибке транзакции учетная запись удаляется.
func (w *Workflow) Register(ctx context.Context, req Request) (*Result, error) {
	req.normalize()

	if err := w.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}

	if err := w.check.Verify(ctx, req.CaptchaID, req.CaptchaAnswer); err != nil {
		if errors.Is(err, captcha.ErrChallengeFailed) {
			return nil, ErrHumanCheckFailed
		}
		return nil, fmt.Errorf("ошибка проверки CAPTCHA: %w", err)
	}

	// Шаг 1: учетная запись у провайдера
	account, err := w.identity.CreateAccount(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateIdentity) {
			w.metrics.RecordSignup("duplicate_identity")
		} else {
			w.metrics.RecordSignup("failed")
		}
		return nil, fmt.Errorf("ошибка создания учетной записи: %w", err)
	}
	uid := account.UID

	// Шаг 2: письмо подтверждения и имя. Ошибки не прерывают регистрацию.
	if err := w.identity.SendVerification(ctx, req.Email); err != nil {
		w.logger.Warn("не удалось отправить письмо подтверждения",
			zap.String("user_id", uid),
			zap.Error(err))
	}
	profile := &models.UserProfile{
		UID:        uid,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Phone:      req.Phone,
		Username:   req.Username,
		Country:    req.Country,
		State:      req.State,
		ReferredBy: req.referredBy(),
		Package:    models.PackageBronze,
	}
	if err := w.identity.UpdateDisplayName(ctx, uid, profile.DisplayName()); err != nil {
		w.logger.Warn("не удалось обновить имя учетной записи",
			zap.String("user_id", uid),
			zap.Error(err))
	}

	// Шаги 3-6: одна транзакция
	credit := ledger.CreditResult("")
	err = w.store.RunInTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		granted, err := tx.AdminGrant().Take(ctx, req.Email)
		if err != nil {
			return err
		}
		profile.IsAdmin = granted

		code, err := w.registry.Mint(ctx, tx, uid)
		if err != nil {
			return err
		}
		profile.ReferralCode = code

		if err := tx.User().Create(ctx, profile); err != nil {
			return err
		}

		credit = ""
		if profile.ReferredBy != nil {
			credit, err = w.ledger.CreditReferral(ctx, tx, *profile.ReferredBy, uid, models.ReferralSourceWeb)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		w.metrics.RecordSignup("failed")
		w.logger.Error("ошибка сохранения профиля, удаляем учетную запись",
			zap.String("user_id", uid),
			zap.Error(err))
		w.deleteOrphan(ctx, uid, err)

		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, fmt.Errorf("%w: %w", ErrProfilePersist, ErrUsernameTaken)
		}
		return nil, fmt.Errorf("%w: %v", ErrProfilePersist, err)
	}

	if credit != "" {
		points := 0
		if credit == ledger.CreditApplied {
			points = ledger.ReferralReward
		}
		w.metrics.RecordReferralCredit(string(credit), points)
	}

	if profile.IsAdmin {
		if err := w.identity.SetAdmin(ctx, uid, true); err != nil {
			w.logger.Error("не удалось установить роль администратора у провайдера",
				zap.String("user_id", uid),
				zap.Error(err))
			w.alerts.Alert(ctx, "AdminClaimSyncFailure", fmt.Sprintf("uid=%s: %v", uid, err))
		}
	}

	// Шаг 7: завершаем сессию до подтверждения email
	if err := w.identity.SignOut(ctx, uid); err != nil {
		w.logger.Warn("не удалось завершить сессию нового пользователя",
			zap.String("user_id", uid),
			zap.Error(err))
	}

	// Шаг 8
	result := &Result{
		UID:          uid,
		ReferralCode: profile.ReferralCode,
		IsAdmin:      profile.IsAdmin,
		Outcome:      OutcomeVerifyEmail,
		Message:      "Account created. Please check your email to verify your account.",
	}
	if profile.IsAdmin {
		result.Outcome = OutcomeAdminCreated
		result.Message = "Admin account created. Please sign in."
	}

	w.metrics.RecordSignup(string(result.Outcome))
	w.logger.Info("пользователь зарегистрирован",
		zap.String("user_id", uid),
		zap.String("referral_code", profile.ReferralCode),
		zap.Bool("is_admin", profile.IsAdmin),
		zap.String("credit", string(credit)))

	return result, nil
}

// deleteOrphan удаляет учетную запись, для которой не удалось сохранить профиль.
// Ошибка удаления логируется как критическая и не меняет ошибку регистрации.
func (w *Workflow) deleteOrphan(ctx context.Context, uid string, cause error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := w.identity.DeleteAccount(cleanupCtx, uid); err != nil {
		w.logger.Error("CRITICAL: не удалось удалить учетную запись без профиля",
			zap.String("condition", ConditionOrphanedIdentity),
			zap.String("user_id", uid),
			zap.NamedError("cause", cause),
			zap.Error(err))
		w.alerts.Alert(cleanupCtx, ConditionOrphanedIdentity, fmt.Sprintf("uid=%s: %v", uid, err))
		return
	}

	w.logger.Info("учетная запись без профиля удалена", zap.String("user_id", uid))
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
