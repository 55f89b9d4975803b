package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/IlyasAtabaev731/banco-digital/internal/storage"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbUrl string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return &Storage{db: db, logger: logger}, nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func (s *Storage) SaveCredential(ctx context.Context, cred models.Credential) error {
	const op = "storage.postgres.SaveCredential"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO credentials (uid, email, password_hash, created_at) VALUES ($1, $2, $3, $4)",
		cred.UID, cred.Email, cred.PasswordHash, cred.CreatedAt,
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
	const op = "storage.postgres.Credential"

	var cred models.Credential

	err := s.db.QueryRowContext(ctx,
		"SELECT uid, email, password_hash, created_at FROM credentials WHERE email = $1",
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
	const op = "storage.postgres.DeleteCredential"

	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE uid = $1", uid); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) SaveProfile(ctx context.Context, p models.Profile) error {
	const op = "storage.postgres.SaveProfile"

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO profiles (uid, name, surname, email, national_id, birth_date, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, p.UID, p.Name, p.Surname, p.Email, p.NationalID, p.BirthDate, p.Balance, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrProfileExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Profile(ctx context.Context, uid string) (*models.Profile, error) {
	const op = "storage.postgres.Profile"

	p, err := scanProfile(s.db.QueryRowContext(ctx, selectProfile+" WHERE uid = $1", uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func (s *Storage) ProfilesByNationalID(ctx context.Context, nationalID string) ([]models.Profile, error) {
	const op = "storage.postgres.ProfilesByNationalID"

	rows, err := s.db.QueryContext(ctx, selectProfile+" WHERE national_id = $1", nationalID)
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

// Deposit records the deposit and credits the profile in one transaction.
func (s *Storage) Deposit(ctx context.Context, params storage.DepositParams) (*models.Transaction, error) {
	const op = "storage.postgres.Deposit"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE profiles SET balance = balance + $1 WHERE uid = $2", params.Amount, params.UID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	} else if n == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrProfileNotFound)
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

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &record, nil
}

// Transfer moves funds between two profiles. Both rows are locked in key
// order so that concurrent transfers between the same pair cannot deadlock,
// and the sender's balance is checked under the lock.
func (s *Storage) Transfer(ctx context.Context, params storage.TransferParams) (*models.Transaction, error) {
	const op = "storage.postgres.Transfer"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	first, second := params.SenderUID, params.RecipientUID
	if first > second {
		first, second = second, first
	}

	balances := make(map[string]decimal.Decimal, 2)
	for _, uid := range []string{first, second} {
		var balance decimal.Decimal
		err := tx.QueryRowContext(ctx, "SELECT balance FROM profiles WHERE uid = $1 FOR UPDATE", uid).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%s: %w", op, storage.ErrProfileNotFound)
			}
			return nil, fmt.Errorf("%s: lock %s: %w", op, uid, err)
		}
		balances[uid] = balance
	}

	if balances[params.SenderUID].LessThan(params.Amount) {
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

	if _, err := tx.ExecContext(ctx, "UPDATE profiles SET balance = balance - $1 WHERE uid = $2", params.Amount, params.SenderUID); err != nil {
		return nil, fmt.Errorf("%s: debit: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE profiles SET balance = balance + $1 WHERE uid = $2", params.Amount, params.RecipientUID); err != nil {
		return nil, fmt.Errorf("%s: credit: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &record, nil
}

func (s *Storage) SentTransactions(ctx context.Context, uid string, limit int) ([]models.Transaction, error) {
	const op = "storage.postgres.SentTransactions"

	txs, err := s.transactions(ctx, selectTransaction+" WHERE sender_uid = $1 ORDER BY created_at DESC, id DESC LIMIT $2", uid, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return txs, nil
}

func (s *Storage) ReceivedTransactions(ctx context.Context, uid string, limit int) ([]models.Transaction, error) {
	const op = "storage.postgres.ReceivedTransactions"

	txs, err := s.transactions(ctx, selectTransaction+" WHERE recipient_uid = $1 ORDER BY created_at DESC, id DESC LIMIT $2", uid, limit)
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

func insertTransaction(ctx context.Context, tx *sql.Tx, t models.Transaction) error {
	var recipient sql.NullString
	if t.RecipientUID != "" {
		recipient = sql.NullString{String: t.RecipientUID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, sender_uid, recipient_uid, recipient_national_id, amount, description, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.SenderUID, recipient, t.RecipientNationalID, t.Amount, t.Description, t.Kind, t.CreatedAt,
	)
	return err
}

func (s *Storage) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil && s.logger != nil {
		s.logger.Error("Failed to close rows", "error", err)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
