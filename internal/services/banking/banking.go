package banking

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/IlyasAtabaev731/banco-digital/internal/services/auth"
	"github.com/IlyasAtabaev731/banco-digital/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const (
	DefaultStartingBalance = 1000
	DefaultHistoryPageSize = 20

	DashboardPath          = "/dashboard"
	defaultDepositNote     = "Depósito"
	transferSuccessMessage = "Transferencia realizada con éxito"
	depositSuccessMessage  = "Depósito realizado con éxito"
)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banco_operations_total",
	Help: "Banking operations by outcome",
}, []string{"operation", "result"})

// Gateway is the auth side the service depends on.
type Gateway interface {
	SignUp(ctx context.Context, email, password string) (string, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(session *models.Session)
	Delete(ctx context.Context, uid string) error
}

// Storage is the document store the service depends on.
type Storage interface {
	SaveProfile(ctx context.Context, p models.Profile) error
	Profile(ctx context.Context, uid string) (*models.Profile, error)
	ProfilesByNationalID(ctx context.Context, nationalID string) ([]models.Profile, error)
	Deposit(ctx context.Context, params storage.DepositParams) (*models.Transaction, error)
	Transfer(ctx context.Context, params storage.TransferParams) (*models.Transaction, error)
	SentTransactions(ctx context.Context, uid string, limit int) ([]models.Transaction, error)
	ReceivedTransactions(ctx context.Context, uid string, limit int) ([]models.Transaction, error)
}

type Options struct {
	StartingBalance decimal.Decimal
	HistoryPageSize int
}

type Service struct {
	log             *slog.Logger
	validate        *validator.Validate
	gateway         Gateway
	storage         Storage
	startingBalance decimal.Decimal
	pageSize        int
}

func New(log *slog.Logger, gateway Gateway, storage Storage, opts Options) *Service {
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = DefaultHistoryPageSize
	}
	if opts.StartingBalance.IsZero() {
		opts.StartingBalance = decimal.NewFromInt(DefaultStartingBalance)
	}

	return &Service{
		log:             log,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		gateway:         gateway,
		storage:         storage,
		startingBalance: opts.StartingBalance,
		pageSize:        opts.HistoryPageSize,
	}
}

type RegisterInput struct {
	Name       string `json:"name" validate:"required"`
	Surname    string `json:"surname" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	NationalID string `json:"national_id" validate:"required"`
	BirthDate  string `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Password   string `json:"password" validate:"required,min=6"`
}

type LoginResult struct {
	Session  *models.Session `json:"session"`
	Profile  *models.Profile `json:"profile"`
	Message  string          `json:"message"`
	Redirect string          `json:"redirect"`
}

type Dashboard struct {
	Profile *models.Profile       `json:"profile"`
	History []models.HistoryEntry `json:"history"`
}

type DepositInput struct {
	Amount      string
	Description string
}

type TransferInput struct {
	RecipientNationalID string
	Amount              string
	Description         string
}

// OperationResult is what a successful deposit or transfer hands back:
// the new record and the dashboard reloaded once after it.
type OperationResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Message     string              `json:"message"`
	Dashboard   *Dashboard          `json:"dashboard"`
}

// Register creates the credential and the initial profile. A credential
// whose profile could not be written is removed again.
func (s *Service) Register(ctx context.Context, in RegisterInput) (profile *models.Profile, err error) {
	const op = "banking.Register"
	defer s.observe(op, &err)

	in.Name = strings.TrimSpace(in.Name)
	in.Surname = strings.TrimSpace(in.Surname)
	in.NationalID = strings.TrimSpace(in.NationalID)
	in.BirthDate = strings.TrimSpace(in.BirthDate)
	in.Email = strings.TrimSpace(in.Email)

	if err := s.validate.Struct(in); err != nil {
		return nil, newError(op, registrationError(err))
	}

	existing, err := s.storage.ProfilesByNationalID(ctx, in.NationalID)
	if err != nil {
		return nil, newError(op, err)
	}
	if len(existing) > 0 {
		return nil, newError(op, ErrNationalIDTaken)
	}

	uid, err := s.gateway.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		return nil, newError(op, err)
	}

	p := models.Profile{
		UID:        uid,
		Name:       in.Name,
		Surname:    in.Surname,
		Email:      auth.NormalizeEmail(in.Email),
		NationalID: in.NationalID,
		BirthDate:  in.BirthDate,
		Balance:    s.startingBalance,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.storage.SaveProfile(ctx, p); err != nil {
		if delErr := s.gateway.Delete(ctx, uid); delErr != nil {
			s.log.Error("Failed to remove orphan credential", slog.String("uid", uid), "error", delErr)
		}
		if errors.Is(err, storage.ErrProfileExists) {
			return nil, newError(op, ErrNationalIDTaken)
		}
		return nil, newError(op, err)
	}

	s.log.Info("Registered user", slog.String("uid", uid))

	return &p, nil
}

// registrationError picks the sentinel for a failed RegisterInput check.
// Missing fields win over malformed ones.
func registrationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			return ErrMissingField
		}
	}

	switch fieldErrs[0].Tag() {
	case "email":
		return auth.ErrInvalidEmail
	case "min":
		return auth.ErrWeakPassword
	case "datetime":
		return ErrInvalidBirthDate
	default:
		return ErrMissingField
	}
}

// Login authenticates and loads the profile the dashboard is built from.
func (s *Service) Login(ctx context.Context, email, password string) (res *LoginResult, err error) {
	const op = "banking.Login"
	defer s.observe(op, &err)

	session, err := s.gateway.SignIn(ctx, email, password)
	if err != nil {
		return nil, newError(op, err)
	}

	p, err := s.profile(ctx, session.UID)
	if err != nil {
		s.gateway.SignOut(session)
		s.log.Warn("Authenticated user has no profile", slog.String("uid", session.UID))
		return nil, newError(op, err)
	}

	return &LoginResult{
		Session:  session,
		Profile:  p,
		Message:  "¡Bienvenido/a, " + p.Name + "!",
		Redirect: DashboardPath,
	}, nil
}

func (s *Service) Logout(session *models.Session) {
	s.gateway.SignOut(session)
}

// Dashboard loads the profile and its history.
func (s *Service) Dashboard(ctx context.Context, session *models.Session) (d *Dashboard, err error) {
	const op = "banking.Dashboard"

	if session == nil {
		return nil, newError(op, auth.ErrUnauthenticated)
	}

	p, err := s.profile(ctx, session.UID)
	if err != nil {
		return nil, newError(op, err)
	}

	history, err := s.history(ctx, session.UID)
	if err != nil {
		return nil, newError(op, err)
	}

	return &Dashboard{Profile: p, History: history}, nil
}

// History merges what the user sent and received, newest first.
func (s *Service) History(ctx context.Context, session *models.Session) ([]models.HistoryEntry, error) {
	const op = "banking.History"

	if session == nil {
		return nil, newError(op, auth.ErrUnauthenticated)
	}

	history, err := s.history(ctx, session.UID)
	if err != nil {
		return nil, newError(op, err)
	}

	return history, nil
}

func (s *Service) Deposit(ctx context.Context, session *models.Session, in DepositInput) (res *OperationResult, err error) {
	const op = "banking.Deposit"
	defer s.observe(op, &err)

	if session == nil {
		return nil, newError(op, auth.ErrUnauthenticated)
	}

	amount, err := models.ParseAmount(in.Amount)
	if err != nil {
		return nil, newError(op, ErrInvalidAmount)
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = defaultDepositNote
	}

	record, err := s.storage.Deposit(ctx, storage.DepositParams{
		UID:         session.UID,
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, newError(op, ErrProfileNotFound)
		}
		return nil, newError(op, err)
	}

	s.log.Info("Deposit", slog.String("uid", session.UID), slog.String("amount", amount.String()))

	return s.result(ctx, op, record, depositSuccessMessage, session)
}

// Transfer validates the request against the sender's stored balance,
// resolves the recipient by national id and lets the store move the funds
// in one transaction, which checks the balance again under lock.
func (s *Service) Transfer(ctx context.Context, session *models.Session, in TransferInput) (res *OperationResult, err error) {
	const op = "banking.Transfer"
	defer s.observe(op, &err)

	if session == nil {
		return nil, newError(op, auth.ErrUnauthenticated)
	}

	amount, err := models.ParseAmount(in.Amount)
	if err != nil {
		return nil, newError(op, ErrInvalidAmount)
	}

	sender, err := s.profile(ctx, session.UID)
	if err != nil {
		return nil, newError(op, err)
	}
	if amount.GreaterThan(sender.Balance) {
		return nil, newError(op, ErrInsufficientFunds)
	}

	nationalID := strings.TrimSpace(in.RecipientNationalID)
	matches, err := s.storage.ProfilesByNationalID(ctx, nationalID)
	if err != nil {
		return nil, newError(op, err)
	}
	switch {
	case nationalID == "" || len(matches) == 0:
		return nil, newError(op, ErrRecipientNotFound)
	case len(matches) > 1:
		return nil, newError(op, ErrAmbiguousRecipient)
	}
	recipient := matches[0]

	if recipient.UID == session.UID {
		return nil, newError(op, ErrSelfTransfer)
	}

	record, err := s.storage.Transfer(ctx, storage.TransferParams{
		SenderUID:           session.UID,
		RecipientUID:        recipient.UID,
		RecipientNationalID: nationalID,
		Amount:              amount,
		Description:         strings.TrimSpace(in.Description),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInsufficientFunds):
			return nil, newError(op, ErrInsufficientFunds)
		case errors.Is(err, storage.ErrProfileNotFound):
			return nil, newError(op, ErrRecipientNotFound)
		}
		return nil, newError(op, err)
	}

	s.log.Info("Transfer",
		slog.String("from", session.UID),
		slog.String("to", recipient.UID),
		slog.String("amount", amount.String()),
	)

	return s.result(ctx, op, record, transferSuccessMessage, session)
}

func (s *Service) result(ctx context.Context, op string, record *models.Transaction, message string, session *models.Session) (*OperationResult, error) {
	dashboard, err := s.Dashboard(ctx, session)
	if err != nil {
		// the operation itself is committed; report it without the refresh
		s.log.Error("Failed to refresh dashboard", slog.String("op", op), "error", err)
		return &OperationResult{Transaction: record, Message: message}, nil
	}

	return &OperationResult{Transaction: record, Message: message, Dashboard: dashboard}, nil
}

func (s *Service) profile(ctx context.Context, uid string) (*models.Profile, error) {
	p, err := s.storage.Profile(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) history(ctx context.Context, uid string) ([]models.HistoryEntry, error) {
	sent, err := s.storage.SentTransactions(ctx, uid, s.pageSize)
	if err != nil {
		return nil, err
	}
	received, err := s.storage.ReceivedTransactions(ctx, uid, s.pageSize)
	if err != nil {
		return nil, err
	}

	return MergeHistory(uid, sent, received, s.pageSize), nil
}

// MergeHistory concatenates both sides, newest first, and keeps at most
// limit entries. The two sides are disjoint: deposits have no recipient and
// a transfer to self is rejected.
func MergeHistory(uid string, sent, received []models.Transaction, limit int) []models.HistoryEntry {
	entries := make([]models.HistoryEntry, 0, len(sent)+len(received))
	for _, t := range sent {
		entries = append(entries, models.HistoryEntry{Transaction: t, Entry: models.EntryFor(t, uid)})
	}
	for _, t := range received {
		entries = append(entries, models.HistoryEntry{Transaction: t, Entry: models.EntryFor(t, uid)})
	}

	slices.SortStableFunc(entries, func(a, b models.HistoryEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries
}

// observe counts the outcome of op. Rejected requests are logged here;
// remote failures are returned to the caller, which logs them once.
func (s *Service) observe(op string, err *error) {
	result := "ok"
	if *err != nil {
		kind := KindOf(*err)
		result = kind.String()
		if kind != KindRemote {
			s.log.Info("Operation rejected", slog.String("op", op), slog.String("kind", result), "error", *err)
		}
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}
