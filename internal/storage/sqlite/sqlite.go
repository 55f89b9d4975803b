package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/IlyasAtabaev731/banco-digital/internal/storage"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const MemoryPath = ":memory:"

// Storage keeps everything in a single SQLite file. Writes take the database
// lock up front (BEGIN IMMEDIATE), so a transfer's balance check and its
// updates cannot interleave with another writer.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) (*Storage, error) {
	const op = "storage.sqlite.New"

	dsn := "file:" + path + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db, logger: logger}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate() error {
	const op = "storage.sqlite.Migrate"

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// m.Close would close s.db along with the driver
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func (s *Storage) SaveCredential(ctx context.Context, cred models.Credential) error {
	const op = "storage.sqlite.SaveCredential"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO credentials (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		cred.UID, cred.Email, cred.PasswordHash, cred.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrCredentialExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Credential(ctx context.Context, email string) (*models.Credential, error) {
	const op = "storage.sqlite.Credential"

	var cred models.Credential

	err := s.db.QueryRowContext(ctx,
		"SELECT uid, email, password_hash, created_at FROM credentials WHERE email = ?",
		email,
	).Scan(&cred.UID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrCredentialNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cred, nil
}

func (s *Storage) DeleteCredential(ctx context.Context, uid string) error {
	const op = "storage.sqlite.DeleteCredential"

	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE uid = ?", uid); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) SaveProfile(ctx context.Context, p models.Profile) error {
	const op = "storage.sqlite.SaveProfile"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (uid, name, surname, email, national_id, birth_date, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UID, p.Name, p.Surname, p.Email, p.NationalID, p.BirthDate, p.Balance, p.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrProfileExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Profile(ctx context.Context, uid string) (*models.Profile, error) {
	const op = "storage.sqlite.Profile"

	p, err := scanProfile(s.db.QueryRowContext(ctx, selectProfile+" WHERE uid = ?", uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func (s *Storage) ProfilesByNationalID(ctx context.Context, nationalID string) ([]models.Profile, error) {
	const op = "storage.sqlite.ProfilesByNationalID"

	rows, err := s.db.QueryContext(ctx, selectProfile+" WHERE national_id = ?", nationalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.closeRows(rows)

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return profiles, nil
}

func (s *Storage) Deposit(ctx context.Context, params storage.DepositParams) (*models.Transaction, error) {
	const op = "storage.sqlite.Deposit"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	balance, err := lockedBalance(ctx, tx, params.UID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	record := models.Transaction{
		ID:          uuid.NewString(),
		SenderUID:   params.UID,
		Amount:      params.Amount,
		Description: params.Description,
		Kind:        models.KindDeposit,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	newBalance := models.ApplyDelta(balance, params.Amount, models.KindDeposit)
	if err := setBalance(ctx, tx, params.UID, newBalance); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &record, nil
}

func (s *Storage) Transfer(ctx context.Context, params storage.TransferParams) (*models.Transaction, error) {
	const op = "storage.sqlite.Transfer"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	senderBalance, err := lockedBalance(ctx, tx, params.SenderUID)
	if err != nil {
		return nil, fmt.Errorf("%s: sender: %w", op, err)
	}
	recipientBalance, err := lockedBalance(ctx, tx, params.RecipientUID)
	if err != nil {
		return nil, fmt.Errorf("%s: recipient: %w", op, err)
	}

	if senderBalance.LessThan(params.Amount) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrInsufficientFunds)
	}

	record := models.Transaction{
		ID:                  uuid.NewString(),
		SenderUID:           params.SenderUID,
		RecipientUID:        params.RecipientUID,
		RecipientNationalID: params.RecipientNationalID,
		Amount:              params.Amount,
		Description:         params.Description,
		Kind:                models.KindTransfer,
		CreatedAt:           time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := setBalance(ctx, tx, params.SenderUID, models.ApplyDelta(senderBalance, params.Amount, models.KindTransfer)); err != nil {
		return nil, fmt.Errorf("%s: debit: %w", op, err)
	}
	if err := setBalance(ctx, tx, params.RecipientUID, models.ApplyDelta(recipientBalance, params.Amount, models.KindDeposit)); err != nil {
		return nil, fmt.Errorf("%s: credit: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &record, nil
}

func (s *Storage) SentTransactions(ctx context.Context, uid string, limit int) ([]models.Transaction, error) {
	const op = "storage.sqlite.SentTransactions"

	txs, err := s.transactions(ctx, selectTransaction+" WHERE sender_uid = ? ORDER BY created_at DESC, id DESC LIMIT ?", uid, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return txs, nil
}

func (s *Storage) ReceivedTransactions(ctx context.Context, uid string, limit int) ([]models.Transaction, error) {
	const op = "storage.sqlite.ReceivedTransactions"

	txs, err := s.transactions(ctx, selectTransaction+" WHERE recipient_uid = ? ORDER BY created_at DESC, id DESC LIMIT ?", uid, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return txs, nil
}

const (
	selectProfile     = "SELECT uid, name, surname, email, national_id, birth_date, balance, created_at FROM profiles"
	selectTransaction = "SELECT id, sender_uid, recipient_uid, recipient_national_id, amount, description, kind, created_at FROM transactions"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*models.Profile, error) {
	var p models.Profile
	if err := row.Scan(&p.UID, &p.Name, &p.Surname, &p.Email, &p.NationalID, &p.BirthDate, &p.Balance, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func lockedBalance(ctx context.Context, tx *sql.Tx, uid string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, "SELECT balance FROM profiles WHERE uid = ?", uid).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, storage.ErrProfileNotFound
	}
	return balance, err
}

func setBalance(ctx context.Context, tx *sql.Tx, uid string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, "UPDATE profiles SET balance = ? WHERE uid = ?", balance.String(), uid)
	return err
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t models.Transaction) error {
	var recipient sql.NullString
	if t.RecipientUID != "" {
		recipient = sql.NullString{String: t.RecipientUID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, sender_uid, recipient_uid, recipient_national_id, amount, description, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SenderUID, recipient, t.RecipientNationalID, t.Amount.String(), t.Description, string(t.Kind), t.CreatedAt,
	)
	return err
}

func (s *Storage) transactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	var txs []models.Transaction
	for rows.Next() {
		var (
			t         models.Transaction
			recipient sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.SenderUID, &recipient, &t.RecipientNationalID, &t.Amount, &t.Description, &t.Kind, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.RecipientUID = recipient.String
		txs = append(txs, t)
	}

	return txs, rows.Err()
}

func (s *Storage) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil && s.logger != nil {
		s.logger.Error("Failed to close rows", "error", err)
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
