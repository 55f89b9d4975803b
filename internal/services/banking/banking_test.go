package banking

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/IlyasAtabaev731/banco-digital/internal/services/auth"
	"github.com/IlyasAtabaev731/banco-digital/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FakeStorage keeps credentials, profiles and records in memory.
type FakeStorage struct {
	mu           sync.Mutex
	credentials  map[string]models.Credential
	profiles     map[string]models.Profile
	transactions []models.Transaction
	clock        time.Time

	failSaveProfile error
	failDeposit     error

	sentCalls     int
	receivedCalls int
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		credentials: map[string]models.Credential{},
		profiles:    map[string]models.Profile{},
		clock:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *FakeStorage) now() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *FakeStorage) SaveCredential(_ context.Context, cred models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.credentials {
		if c.Email == cred.Email {
			return storage.ErrCredentialExists
		}
	}
	f.credentials[cred.UID] = cred
	return nil
}

func (f *FakeStorage) Credential(_ context.Context, email string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.credentials {
		if c.Email == email {
			return &c, nil
		}
	}
	return nil, storage.ErrCredentialNotFound
}

func (f *FakeStorage) DeleteCredential(_ context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.credentials, uid)
	return nil
}

func (f *FakeStorage) SaveProfile(_ context.Context, p models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveProfile != nil {
		return f.failSaveProfile
	}
	f.profiles[p.UID] = p
	return nil
}

func (f *FakeStorage) Profile(_ context.Context, uid string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[uid]
	if !ok {
		return nil, storage.ErrProfileNotFound
	}
	return &p, nil
}

func (f *FakeStorage) ProfilesByNationalID(_ context.Context, nationalID string) ([]models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []models.Profile
	for _, p := range f.profiles {
		if p.NationalID == nationalID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (f *FakeStorage) Deposit(_ context.Context, params storage.DepositParams) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeposit != nil {
		return nil, f.failDeposit
	}
	p, ok := f.profiles[params.UID]
	if !ok {
		return nil, storage.ErrProfileNotFound
	}
	t := models.Transaction{
		ID:          uuid.NewString(),
		SenderUID:   params.UID,
		Amount:      params.Amount,
		Description: params.Description,
		Kind:        models.KindDeposit,
		CreatedAt:   f.now(),
	}
	p.Balance = models.ApplyDelta(p.Balance, params.Amount, models.KindDeposit)
	f.profiles[p.UID] = p
	f.transactions = append(f.transactions, t)
	return &t, nil
}

func (f *FakeStorage) Transfer(_ context.Context, params storage.TransferParams) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sender, ok := f.profiles[params.SenderUID]
	if !ok {
		return nil, storage.ErrProfileNotFound
	}
	recipient, ok := f.profiles[params.RecipientUID]
	if !ok {
		return nil, storage.ErrProfileNotFound
	}
	if sender.Balance.LessThan(params.Amount) {
		return nil, storage.ErrInsufficientFunds
	}
	t := models.Transaction{
		ID:                  uuid.NewString(),
		SenderUID:           params.SenderUID,
		RecipientUID:        params.RecipientUID,
		RecipientNationalID: params.RecipientNationalID,
		Amount:              params.Amount,
		Description:         params.Description,
		Kind:                models.KindTransfer,
		CreatedAt:           f.now(),
	}
	sender.Balance = sender.Balance.Sub(params.Amount)
	recipient.Balance = recipient.Balance.Add(params.Amount)
	f.profiles[sender.UID] = sender
	f.profiles[recipient.UID] = recipient
	f.transactions = append(f.transactions, t)
	return &t, nil
}

func (f *FakeStorage) SentTransactions(_ context.Context, uid string, limit int) ([]models.Transaction, error) {
	f.mu.Lock()
	f.sentCalls++
	f.mu.Unlock()
	return f.filter(func(t models.Transaction) bool { return t.SenderUID == uid }, limit), nil
}

func (f *FakeStorage) ReceivedTransactions(_ context.Context, uid string, limit int) ([]models.Transaction, error) {
	f.mu.Lock()
	f.receivedCalls++
	f.mu.Unlock()
	return f.filter(func(t models.Transaction) bool { return t.RecipientUID == uid }, limit), nil
}

// historyReads returns and resets the number of history queries made.
func (f *FakeStorage) historyReads() (sent, received int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sent, received = f.sentCalls, f.receivedCalls
	f.sentCalls, f.receivedCalls = 0, 0
	return sent, received
}

func (f *FakeStorage) filter(keep func(models.Transaction) bool, limit int) []models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []models.Transaction
	for i := len(f.transactions) - 1; i >= 0 && len(res) < limit; i-- {
		if keep(f.transactions[i]) {
			res = append(res, f.transactions[i])
		}
	}
	return res
}

func (f *FakeStorage) setBalance(uid string, balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[uid]
	p.Balance = decimal.NewFromInt(balance)
	f.profiles[uid] = p
}

func (f *FakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transactions)
}

type testEnv struct {
	store   *FakeStorage
	auth    *auth.Service
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewFakeStorage()
	gateway := auth.New(log, store, "test-secret", time.Hour)
	return &testEnv{
		store:   store,
		auth:    gateway,
		service: New(log, gateway, store, Options{}),
	}
}

func (e *testEnv) signUp(t *testing.T, name, email, nationalID string) *models.Session {
	t.Helper()
	ctx := context.Background()

	_, err := e.service.Register(ctx, RegisterInput{
		Name:       name,
		Surname:    "Pérez",
		Email:      email,
		NationalID: nationalID,
		BirthDate:  "1990-05-17",
		Password:   "secreto",
	})
	require.NoError(t, err)

	res, err := e.service.Login(ctx, email, "secreto")
	require.NoError(t, err)
	return res.Session
}

func requireKind(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err))
	assert.Equal(t, message, MessageOf(err))
}

func TestRegisterAssignsStartingBalance(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.service.Register(context.Background(), RegisterInput{
		Name: "Ana", Surname: "Rojas", Email: " Ana@Example.com ", NationalID: "11.111.111-1",
		BirthDate: "1990-01-01", Password: "secreto",
	})
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(DefaultStartingBalance)))
	assert.Equal(t, "ana@example.com", p.Email)
	assert.NotEmpty(t, p.UID)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	valid := RegisterInput{
		Name: "Ana", Surname: "Rojas", Email: "ana@example.com", NationalID: "1-9",
		BirthDate: "1990-01-01", Password: "secreto",
	}

	missing := valid
	missing.Surname = " "
	_, err := env.service.Register(ctx, missing)
	requireKind(t, err, KindValidation, "Todos los campos son obligatorios")

	badDate := valid
	badDate.BirthDate = "17/05/1990"
	_, err = env.service.Register(ctx, badDate)
	requireKind(t, err, KindValidation, "Fecha de nacimiento inválida")

	weak := valid
	weak.Password = "123"
	_, err = env.service.Register(ctx, weak)
	requireKind(t, err, KindValidation, "La contraseña debe tener al menos 6 caracteres")

	_, err = env.service.Register(ctx, valid)
	require.NoError(t, err)

	sameEmail := valid
	sameEmail.NationalID = "2-7"
	_, err = env.service.Register(ctx, sameEmail)
	requireKind(t, err, KindConflict, "El correo ya está registrado")

	sameRUT := valid
	sameRUT.Email = "otra@example.com"
	_, err = env.service.Register(ctx, sameRUT)
	requireKind(t, err, KindConflict, "El RUT ya está registrado")
}

func TestRegisterRemovesCredentialWhenProfileFails(t *testing.T) {
	env := newTestEnv(t)
	env.store.failSaveProfile = errors.New("disk full")

	_, err := env.service.Register(context.Background(), RegisterInput{
		Name: "Ana", Surname: "Rojas", Email: "ana@example.com", NationalID: "1-9",
		BirthDate: "1990-01-01", Password: "secreto",
	})
	requireKind(t, err, KindRemote, "Error del servicio: disk full")

	_, err = env.store.Credential(context.Background(), "ana@example.com")
	assert.ErrorIs(t, err, storage.ErrCredentialNotFound)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "Ana", "ana@example.com", "1-9")

	res, err := env.service.Login(context.Background(), "ana@example.com", "secreto")
	require.NoError(t, err)
	assert.Equal(t, DashboardPath, res.Redirect)
	assert.Equal(t, "¡Bienvenido/a, Ana!", res.Message)
	assert.NotEmpty(t, res.Session.Token)

	_, err = env.service.Login(context.Background(), "ana@example.com", "incorrecta")
	requireKind(t, err, KindAuth, "Correo o contraseña incorrectos.")

	_, err = env.service.Login(context.Background(), "nadie@example.com", "secreto")
	requireKind(t, err, KindAuth, "Correo o contraseña incorrectos.")
}

func TestLoginWithoutProfile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.auth.SignUp(context.Background(), "huerfano@example.com", "secreto")
	require.NoError(t, err)

	_, err = env.service.Login(context.Background(), "huerfano@example.com", "secreto")
	requireKind(t, err, KindNotFound, "Perfil no encontrado")
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "Ana", "ana@example.com", "1-9")

	env.service.Logout(session)

	_, err := env.auth.Current(session.Token)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestDeposit(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "Ana", "ana@example.com", "1-9")

	res, err := env.service.Deposit(context.Background(), session, DepositInput{Amount: "200"})
	require.NoError(t, err)

	assert.True(t, res.Dashboard.Profile.Balance.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, "Depósito", res.Transaction.Description)
	assert.Equal(t, models.KindDeposit, res.Transaction.Kind)
	require.Len(t, res.Dashboard.History, 1)
	assert.Equal(t, models.EntryDeposit, res.Dashboard.History[0].Entry)
	assert.Equal(t, 1, env.store.count())
}

func TestDepositRejectsInvalidAmounts(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "Ana", "ana@example.com", "1-9")

	for _, amount := range []string{"", "0", "-5", "abc"} {
		_, err := env.service.Deposit(context.Background(), session, DepositInput{Amount: amount})
		requireKind(t, err, KindValidation, "Monto inválido")
	}
	assert.Equal(t, 0, env.store.count())
}

func TestDepositRemoteFailure(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "Ana", "ana@example.com", "1-9")
	env.store.failDeposit = errors.New("connection reset")

	_, err := env.service.Deposit(context.Background(), session, DepositInput{Amount: "10"})
	requireKind(t, err, KindRemote, "Error del servicio: connection reset")
}

func TestOperationsRequireSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Deposit(ctx, nil, DepositInput{Amount: "10"})
	requireKind(t, err, KindAuth, "Usuario no autenticado")

	_, err = env.service.Transfer(ctx, nil, TransferInput{RecipientNationalID: "1-9", Amount: "10"})
	requireKind(t, err, KindAuth, "Usuario no autenticado")

	_, err = env.service.Dashboard(ctx, nil)
	requireKind(t, err, KindAuth, "Usuario no autenticado")
}

func TestTransfer(t *testing.T) {
	env := newTestEnv(t)
	ana := env.signUp(t, "Ana", "ana@example.com", "1-9")
	beto := env.signUp(t, "Beto", "beto@example.com", "2-7")

	res, err := env.service.Transfer(context.Background(), ana, TransferInput{
		RecipientNationalID: "2-7",
		Amount:              "100",
		Description:         "almuerzo",
	})
	require.NoError(t, err)
	assert.Equal(t, "Transferencia realizada con éxito", res.Message)
	assert.True(t, res.Dashboard.Profile.Balance.Equal(decimal.NewFromInt(900)))
	require.Len(t, res.Dashboard.History, 1)
	assert.Equal(t, models.EntryOutgoing, res.Dashboard.History[0].Entry)

	dash, err := env.service.Dashboard(context.Background(), beto)
	require.NoError(t, err)
	assert.True(t, dash.Profile.Balance.Equal(decimal.NewFromInt(1100)))
	require.Len(t, dash.History, 1)
	assert.Equal(t, models.EntryIncoming, dash.History[0].Entry)
	assert.Equal(t, "almuerzo", dash.History[0].Description)
}

func TestTransferInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ana := env.signUp(t, "Ana", "ana@example.com", "1-9")
	env.signUp(t, "Beto", "beto@example.com", "2-7")
	env.store.setBalance(ana.UID, 50)

	_, err := env.service.Transfer(context.Background(), ana, TransferInput{RecipientNationalID: "2-7", Amount: "100"})
	requireKind(t, err, KindValidation, "Saldo insuficiente")

	p, err := env.store.Profile(context.Background(), ana.UID)
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 0, env.store.count())
}

func TestTransferRejectsSelfAndUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	ana := env.signUp(t, "Ana", "ana@example.com", "1-9")

	_, err := env.service.Transfer(context.Background(), ana, TransferInput{RecipientNationalID: "1-9", Amount: "10"})
	requireKind(t, err, KindValidation, "No puedes transferirte a ti mismo")

	_, err = env.service.Transfer(context.Background(), ana, TransferInput{RecipientNationalID: "9-9", Amount: "10"})
	requireKind(t, err, KindNotFound, "RUT de destinatario no encontrado")

	_, err = env.service.Transfer(context.Background(), ana, TransferInput{RecipientNationalID: "", Amount: "10"})
	requireKind(t, err, KindNotFound, "RUT de destinatario no encontrado")

	assert.Equal(t, 0, env.store.count())
}

func TestTransferAmbiguousRecipient(t *testing.T) {
	env := newTestEnv(t)
	ana := env.signUp(t, "Ana", "ana@example.com", "1-9")
	for _, uid := range []string{"x1", "x2"} {
		require.NoError(t, env.store.SaveProfile(context.Background(), models.Profile{UID: uid, NationalID: "3-5"}))
	}

	_, err := env.service.Transfer(context.Background(), ana, TransferInput{RecipientNationalID: "3-5", Amount: "10"})
	requireKind(t, err, KindConflict, "RUT de destinatario ambiguo")
}

func TestTransferChecksAmountBeforeRecipient(t *testing.T) {
	env := newTestEnv(t)
	ana := env.signUp(t, "Ana", "ana@example.com", "1-9")

	_, err := env.service.Transfer(context.Background(), ana, TransferInput{RecipientNationalID: "9-9", Amount: "0"})
	requireKind(t, err, KindValidation, "Monto inválido")

	_, err = env.service.Transfer(context.Background(), ana, TransferInput{RecipientNationalID: "9-9", Amount: "5000"})
	requireKind(t, err, KindValidation, "Saldo insuficiente")
}

func TestOperationsRefreshHistoryOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.signUp(t, "Ana", "ana@example.com", "1-9")
	env.signUp(t, "Beto", "beto@example.com", "2-7")

	requireReads := func(wantSent, wantReceived int) {
		t.Helper()
		sent, received := env.store.historyReads()
		assert.Equal(t, wantSent, sent, "sent queries")
		assert.Equal(t, wantReceived, received, "received queries")
	}
	requireReads(0, 0)

	_, err := env.service.Deposit(ctx, ana, DepositInput{Amount: "200"})
	require.NoError(t, err)
	requireReads(1, 1)

	_, err = env.service.Transfer(ctx, ana, TransferInput{RecipientNationalID: "2-7", Amount: "100"})
	require.NoError(t, err)
	requireReads(1, 1)

	_, err = env.service.Deposit(ctx, ana, DepositInput{Amount: "0"})
	require.Error(t, err)
	requireReads(0, 0)

	_, err = env.service.Transfer(ctx, ana, TransferInput{RecipientNationalID: "2-7", Amount: "999999"})
	require.Error(t, err)
	requireReads(0, 0)

	_, err = env.service.Transfer(ctx, ana, TransferInput{RecipientNationalID: "1-9", Amount: "10"})
	require.Error(t, err)
	requireReads(0, 0)
}

func TestDepositRejectsOversizedAmounts(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "Ana", "ana@example.com", "1-9")

	for _, amount := range []string{"1e5000", "1e2000000", "1e999999999", "10000000000000", "0.001"} {
		_, err := env.service.Deposit(context.Background(), session, DepositInput{Amount: amount})
		requireKind(t, err, KindValidation, "Monto inválido")
	}

	p, err := env.store.Profile(context.Background(), session.UID)
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(DefaultStartingBalance)))
	assert.Equal(t, 0, env.store.count())
}

func TestRegisterRejectsDisplayNameEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Register(context.Background(), RegisterInput{
		Name: "Ana", Surname: "Rojas", Email: "Ana Rojas <ana@example.com>", NationalID: "1-9",
		BirthDate: "1990-01-01", Password: "secreto",
	})
	requireKind(t, err, KindValidation, "Correo electrónico inválido")

	_, err = env.store.Credential(context.Background(), "ana rojas <ana@example.com>")
	assert.ErrorIs(t, err, storage.ErrCredentialNotFound)
}

func TestRemoteFailuresAreLeftToTheCaller(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	store := NewFakeStorage()
	gateway := auth.New(log, store, "test-secret", time.Hour)
	service := New(log, gateway, store, Options{})
	ctx := context.Background()

	_, err := service.Register(ctx, RegisterInput{
		Name: "Ana", Surname: "Rojas", Email: "ana@example.com", NationalID: "1-9",
		BirthDate: "1990-01-01", Password: "secreto",
	})
	require.NoError(t, err)
	login, err := service.Login(ctx, "ana@example.com", "secreto")
	require.NoError(t, err)

	store.failDeposit = errors.New("connection reset")
	_, err = service.Deposit(ctx, login.Session, DepositInput{Amount: "10"})
	requireKind(t, err, KindRemote, "Error del servicio: connection reset")
	assert.NotContains(t, buf.String(), "connection reset")

	_, err = service.Deposit(ctx, login.Session, DepositInput{Amount: "-1"})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Operation rejected")
}

func TestMergeHistory(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := func(id, from, to string, minute int) models.Transaction {
		kind := models.KindTransfer
		if to == "" {
			kind = models.KindDeposit
		}
		return models.Transaction{
			ID: id, SenderUID: from, RecipientUID: to, Kind: kind,
			Amount: decimal.NewFromInt(1), CreatedAt: base.Add(time.Duration(minute) * time.Minute),
		}
	}

	sent := []models.Transaction{tx("a", "me", "", 5), tx("b", "me", "you", 1)}
	received := []models.Transaction{tx("c", "you", "me", 3), tx("d", "you", "me", 5)}

	got := MergeHistory("me", sent, received, 10)
	require.Len(t, got, 4)

	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"d", "a", "c", "b"}, ids)
	assert.Equal(t, models.EntryIncoming, got[0].Entry)
	assert.Equal(t, models.EntryDeposit, got[1].Entry)
	assert.Equal(t, models.EntryOutgoing, got[3].Entry)

	assert.Len(t, MergeHistory("me", sent, received, 2), 2)
	assert.Empty(t, MergeHistory("me", nil, nil, 10))
}
