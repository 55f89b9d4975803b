package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const demoDomain = "@demo.banco.local"

func main() {
	var total int
	var password string

	flag.IntVar(&total, "count", 100, "number of demo users")
	flag.StringVar(&password, "password", "demo123", "password shared by demo users")

	cfg := config.MustLoad()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.Postgres.URL())
	if err != nil {
		log.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	var existing int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM credentials WHERE email LIKE '%' || $1", demoDomain).Scan(&existing); err != nil {
		log.Error("Failed to count demo users", "error", err)
		os.Exit(1)
	}
	if existing >= total {
		log.Info("Demo users already present, skipping", slog.Int("count", existing))
		return
	}

	n, err := seed(ctx, conn, existing, total, password, cfg.StartingBalance)
	if err != nil {
		log.Error("Bulk insert failed", "error", err)
		os.Exit(1)
	}

	log.Info("Seeded demo users", slog.Int64("count", n))
}

// seed inserts demo users from index from up to total with two CopyFrom
// calls inside one transaction.
func seed(ctx context.Context, conn *pgx.Conn, from, total int, password string, balance int64) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	credentials := make([][]any, 0, total-from)
	profiles := make([][]any, 0, total-from)
	for i := from; i < total; i++ {
		uid := uuid.NewString()
		email := fmt.Sprintf("demo%04d%s", i, demoDomain)
		credentials = append(credentials, []any{uid, email, string(hash), now})
		profiles = append(profiles, []any{
			uid, "Demo", fmt.Sprintf("Usuario %d", i), email,
			fmt.Sprintf("9%07d-%d", i, i%10), "1990-01-01", balance, now,
		})
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"credentials"},
		[]string{"uid", "email", "password_hash", "created_at"},
		pgx.CopyFromRows(credentials),
	); err != nil {
		return 0, fmt.Errorf("credentials: %w", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"profiles"},
		[]string{"uid", "name", "surname", "email", "national_id", "birth_date", "balance", "created_at"},
		pgx.CopyFromRows(profiles),
	)
	if err != nil {
		return 0, fmt.Errorf("profiles: %w", err)
	}

	return n, tx.Commit(ctx)
}
