package banking

import (
	"errors"

	"github.com/IlyasAtabaev731/banco-digital/internal/services/auth"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrAmbiguousRecipient = errors.New("national id matches several profiles")
	ErrSelfTransfer       = errors.New("transfer to self")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrNationalIDTaken    = errors.New("national id already registered")
	ErrMissingField       = errors.New("missing required field")
	ErrInvalidBirthDate   = errors.New("invalid birth date")
)

// Kind groups operation failures the way they are reported to the user.
type Kind int

const (
	KindRemote Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "remote"
	}
}

type failure struct {
	kind    Kind
	message string
}

var failures = map[error]failure{
	ErrInvalidAmount:           {KindValidation, "Monto inválido"},
	ErrInsufficientFunds:       {KindValidation, "Saldo insuficiente"},
	ErrSelfTransfer:            {KindValidation, "No puedes transferirte a ti mismo"},
	ErrMissingField:            {KindValidation, "Todos los campos son obligatorios"},
	ErrInvalidBirthDate:        {KindValidation, "Fecha de nacimiento inválida"},
	auth.ErrInvalidEmail:       {KindValidation, "Correo electrónico inválido"},
	auth.ErrWeakPassword:       {KindValidation, "La contraseña debe tener al menos 6 caracteres"},
	ErrRecipientNotFound:       {KindNotFound, "RUT de destinatario no encontrado"},
	ErrAmbiguousRecipient:      {KindConflict, "RUT de destinatario ambiguo"},
	ErrProfileNotFound:         {KindNotFound, "Perfil no encontrado"},
	ErrNationalIDTaken:         {KindConflict, "El RUT ya está registrado"},
	auth.ErrEmailTaken:         {KindConflict, "El correo ya está registrado"},
	auth.ErrInvalidCredentials: {KindAuth, "Correo o contraseña incorrectos."},
	auth.ErrUnauthenticated:    {KindAuth, "Usuario no autenticado"},
}

// Error is returned by every operation of the service. Message is what the
// user sees; Err keeps the cause for errors.Is and logging.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	for sentinel, f := range failures {
		if errors.Is(err, sentinel) {
			return &Error{Op: op, Kind: f.kind, Message: f.message, Err: err}
		}
	}
	return &Error{Op: op, Kind: KindRemote, Message: "Error del servicio: " + err.Error(), Err: err}
}

// WrapError classifies err for callers outside the service, such as the
// HTTP layer resolving a session.
func WrapError(op string, err error) *Error {
	return newError(op, err)
}

// KindOf reports the kind of err, KindRemote for foreign errors.
func KindOf(err error) Kind {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindRemote
}

// MessageOf returns the text to show the user for err.
func MessageOf(err error) string {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Message
	}
	return "Error del servicio: " + err.Error()
}
