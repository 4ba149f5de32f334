package pg

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"resilience/internal/shared"
)

// Classify помечает ошибку PostgreSQL видом из shared, чтобы политики
// повторов отличали временную недоступность от отказа.
//
//   - ошибка разбора DSN: KindValidation
//   - класс 28 (авторизация) и 3D (нет базы): KindRejected
//   - 57P01..57P03, класс 53 и 08: KindUnavailable
//
// Сетевые ошибки остаются как есть: их распознает shared.IsTransient.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var parseErr *pgconn.ParseConfigError
	if errors.As(err, &parseErr) {
		return shared.MarkKind(err, shared.KindValidation)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch code := pgErr.Code; {
	case strings.HasPrefix(code, "28"), strings.HasPrefix(code, "3D"):
		return shared.MarkKind(err, shared.KindRejected)
	case code == "57P01", code == "57P02", code == "57P03",
		strings.HasPrefix(code, "53"), strings.HasPrefix(code, "08"):
		return shared.MarkKind(err, shared.KindUnavailable)
	}
	return err
}
