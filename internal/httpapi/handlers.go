package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"write-paid/internal/course"
	"write-paid/internal/lead"
	"write-paid/internal/signup"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultListLimit = 100

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.svc.Captcha.Issue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", challenge)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signup.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	result, err := s.svc.Signup.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, result.Message, result)
}

func (s *Server) handleReferrerName(w http.ResponseWriter, r *http.Request) {
	name, err := s.svc.Referrals.ReferrerName(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if name == "" {
		writeFailure(w, http.StatusNotFound, "Referral code not found.")
		return
	}
	writeData(w, http.StatusOK, "", map[string]string{"name": name})
}

func (s *Server) handleCaptureLead(w http.ResponseWriter, r *http.Request) {
	var req lead.CaptureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	l, err := s.svc.Leads.Capture(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "Thanks! We will be in touch soon.", l)
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.svc.Courses.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", courses)
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Courses.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", c)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	profile, err := s.svc.Users.Profile(r.Context(), p.UID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", profile)
}

func (s *Server) handleReferralSummary(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	summary, err := s.svc.Referrals.Summary(r.Context(), p.UID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", summary)
}

func (s *Server) handleReferralQR(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "size must be a number.")
			return
		}
		size = parsed
	}

	png, err := s.svc.Referrals.QRCode(r.Context(), p.UID, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.logger.Warn("ошибка отправки QR-кода", zap.Error(err))
	}
}

func (s *Server) handleMyEnrollments(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	enrollments, err := s.svc.Enrollments.ListForUser(r.Context(), p.UID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", enrollments)
}

func (s *Server) handleCourseAccess(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	ok, err := s.svc.Enrollments.HasAccess(r.Context(), p.UID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]bool{"hasAccess": ok})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	session, err := s.svc.Enrollments.CreateCheckout(r.Context(), p.UID, p.Email, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", session)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.svc.Users.Overview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", overview)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.svc.Leads.List(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", leads)
}

func (s *Server) handlePendingRewards(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.Payouts.PendingRewards(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", users)
}

func (s *Server) handlePayoutHistory(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.svc.Payouts.History(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", payouts)
}

type payoutRequest struct {
	UserID string `json:"userId"`
	Amount int    `json:"amount"`
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	// сумму проверяет ledger.CashOut, чтобы отказ попал в метрики выплат
	if strings.TrimSpace(req.UserID) == "" {
		writeFailure(w, http.StatusBadRequest, "userId is required.")
		return
	}

	p := principalFromContext(r.Context())
	s.logger.Info("запрос выплаты",
		zap.String("admin_id", p.UID),
		zap.String("user_id", req.UserID),
		zap.Int("amount", req.Amount))

	result, err := s.svc.Payouts.Payout(r.Context(), req.UserID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Payout completed.", result)
}

func (s *Server) handleAddCourse(w http.ResponseWriter, r *http.Request) {
	var req course.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	c, err := s.svc.Courses.Add(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "Course added.", c)
}

type signRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

func (s *Server) handleSignUpload(w http.ResponseWriter, r *http.Request) {
	if s.svc.Media == nil {
		writeFailure(w, http.StatusServiceUnavailable, "Media storage is not configured.")
		return
	}

	var req signRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeFailure(w, http.StatusBadRequest, "filename is required.")
		return
	}

	upload, err := s.svc.Media.SignUpload(r.Context(), req.Filename, req.ContentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", upload)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

