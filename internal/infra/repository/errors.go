package repository

import (
	"errors"

	repo "app/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQLのunique_violation
const uniqueViolationCode = "23505"

// 一意制約違反を repo.ErrDuplicate に寄せる。それ以外はそのまま返す。
func translateDuplicate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return repo.ErrDuplicate
	}
	return err
}
