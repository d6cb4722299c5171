package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
