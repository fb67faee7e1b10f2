package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"write-paid/internal/course"
	"write-paid/internal/enrollment"
	"write-paid/internal/identity"
	"write-paid/internal/lead"
	"write-paid/internal/ledger"
	"write-paid/internal/media"
	"write-paid/internal/signup"
	"write-paid/internal/store"
	"write-paid/internal/user"

	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

// Envelope единый формат ответа API
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// errorStatus сопоставляет ошибку сервиса с кодом ответа и сообщением для пользователя
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, signup.ErrHumanCheckFailed):
		return http.StatusBadRequest, "Human verification failed. Please try again."
	case errors.Is(err, signup.ErrInvalidRequest):
		return http.StatusBadRequest, "Please check the form fields: " + detail(err, signup.ErrInvalidRequest)
	case errors.Is(err, course.ErrInvalidCourse):
		return http.StatusBadRequest, "Invalid course: " + detail(err, course.ErrInvalidCourse)
	case errors.Is(err, lead.ErrInvalidLead):
		return http.StatusBadRequest, "Please check the form fields: " + detail(err, lead.ErrInvalidLead)
	case errors.Is(err, identity.ErrDuplicateIdentity):
		return http.StatusConflict, "This email is already registered."
	case errors.Is(err, signup.ErrUsernameTaken):
		return http.StatusConflict, "This username is already taken."
	case errors.Is(err, signup.ErrProfilePersist):
		return http.StatusInternalServerError, "Failed to create your profile. Please try again."
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest, "Insufficient reward points for this payout."
	case errors.Is(err, ledger.ErrPartialPayout):
		return http.StatusBadRequest, "Partial payouts are not supported. Pay out the full balance."
	case errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, user.ErrProfileNotFound):
		return http.StatusNotFound, "User not found."
	case errors.Is(err, enrollment.ErrCourseNotFound),
		errors.Is(err, course.ErrNotFound):
		return http.StatusNotFound, "Course not found."
	case errors.Is(err, enrollment.ErrAlreadyEnrolled):
		return http.StatusConflict, "You already own this course."
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusBadRequest, "Only image and video uploads are supported."
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

// detail текст ошибки без префикса sentinel
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("ошибка обработки запроса",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		s.logger.Debug("запрос отклонен",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeFailure(w, status, message)
}
