package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/IlyasAtabaev731/banco-digital/internal/services/banking"
)

const malformedRequest = "Formato de solicitud inválido"

type RegisterRequest = banking.RegisterInput

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AmountField accepts an amount written either as a JSON number or a string.
type AmountField string

func (a *AmountField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AmountField(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	*a = AmountField(data)
	return nil
}

type DepositRequest struct {
	Amount      AmountField `json:"amount"`
	Description string      `json:"description"`
}

type TransferRequest struct {
	RecipientNationalID string      `json:"recipient_national_id"`
	Amount              AmountField `json:"amount"`
	Description         string      `json:"description"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type PageResponse struct {
	Page      string             `json:"page"`
	Dashboard *banking.Dashboard `json:"dashboard,omitempty"`
}

func (s *APIServer) registerHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if !s.decode(w, r, &req) {
			return
		}

		profile, err := s.banking.Register(r.Context(), req)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusCreated, profile)
	}
}

func (s *APIServer) loginHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !s.decode(w, r, &req) {
			return
		}

		res, err := s.banking.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			s.respondError(w, err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    res.Session.Token,
			Path:     "/",
			Expires:  res.Session.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		s.respond(w, http.StatusOK, res)
	}
}

func (s *APIServer) logoutHandler() sessionHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, session *models.Session) {
		s.banking.Logout(session)

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})

		s.respond(w, http.StatusOK, MessageResponse{Message: "Sesión cerrada"})
	}
}

func (s *APIServer) sessionHandler() sessionHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, session *models.Session) {
		s.respond(w, http.StatusOK, session)
	}
}

func (s *APIServer) dashboardHandler() sessionHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, session *models.Session) {
		dashboard, err := s.banking.Dashboard(r.Context(), session)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, dashboard)
	}
}

func (s *APIServer) transactionsHandler() sessionHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, session *models.Session) {
		history, err := s.banking.History(r.Context(), session)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, history)
	}
}

func (s *APIServer) depositHandler() sessionHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, session *models.Session) {
		var req DepositRequest
		if !s.decode(w, r, &req) {
			return
		}

		res, err := s.banking.Deposit(r.Context(), session, banking.DepositInput{
			Amount:      string(req.Amount),
			Description: req.Description,
		})
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, res)
	}
}

func (s *APIServer) transferHandler() sessionHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, session *models.Session) {
		var req TransferRequest
		if !s.decode(w, r, &req) {
			return
		}

		res, err := s.banking.Transfer(r.Context(), session, banking.TransferInput{
			RecipientNationalID: req.RecipientNationalID,
			Amount:              string(req.Amount),
			Description:         req.Description,
		})
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, res)
	}
}

func (s *APIServer) healthHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *APIServer) pageHandler(page string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, PageResponse{Page: page})
	}
}

// dashboardPageHandler sends visitors without a session back to the login page.
func (s *APIServer) dashboardPageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.session(r)
		if err != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		dashboard, err := s.banking.Dashboard(r.Context(), session)
		if err != nil {
			if banking.KindOf(err) == banking.KindRemote {
				s.respondError(w, err)
				return
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		s.respond(w, http.StatusOK, PageResponse{Page: "dashboard", Dashboard: dashboard})
	}
}

// notFoundHandler redirects unknown browser paths to the login page.
func (s *APIServer) notFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && !strings.HasPrefix(r.URL.Path, "/api/") {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		s.respond(w, http.StatusNotFound, ErrorResponse{Error: "Recurso no encontrado", Kind: banking.KindNotFound.String()})
	}
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respond(w, http.StatusBadRequest, ErrorResponse{Error: malformedRequest, Kind: banking.KindValidation.String()})
		return false
	}
	return true
}

func (s *APIServer) respond(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *APIServer) respondError(w http.ResponseWriter, err error) {
	kind := banking.KindOf(err)
	if kind == banking.KindRemote {
		s.logger.Error("Request failed", "error", err)
	}

	s.respond(w, statusFor(kind), ErrorResponse{Error: banking.MessageOf(err), Kind: kind.String()})
}

func statusFor(kind banking.Kind) int {
	switch kind {
	case banking.KindAuth:
		return http.StatusUnauthorized
	case banking.KindValidation:
		return http.StatusUnprocessableEntity
	case banking.KindNotFound:
		return http.StatusNotFound
	case banking.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
