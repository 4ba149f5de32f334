package pg

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"resilience/internal/shared"
)

// Target описывает проверяемую базу. Пароль сюда не попадает, поэтому
// Target можно писать в логи и ошибки.
type Target struct {
	Host           string
	Port           uint16
	User           string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
}

func (t Target) String() string {
	return t.User + "@" + net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port))) + "/" + t.Database
}

// IsDSN сообщает, похожа ли строка на URL PostgreSQL.
func IsDSN(s string) bool {
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}

// ParseTarget разбирает URL PostgreSQL. Порт, sslmode и connect_timeout
// проверяет pgconn; пользователь и база должны быть указаны явно, без
// подстановки из окружения. Ошибки оборачивают shared.ErrValidation.
func ParseTarget(dsn string) (Target, error) {
	if !IsDSN(dsn) {
		return Target{}, fmt.Errorf("%w: not a postgres url", shared.ErrValidation)
	}
	// ошибка url.Parse содержит исходную строку вместе с паролем
	u, err := url.Parse(dsn)
	if err != nil {
		return Target{}, fmt.Errorf("%w: malformed postgres url", shared.ErrValidation)
	}
	if u.User == nil || u.User.Username() == "" {
		return Target{}, fmt.Errorf("%w: user is required", shared.ErrValidation)
	}
	if strings.Trim(u.Path, "/") == "" {
		return Target{}, fmt.Errorf("%w: database is required", shared.ErrValidation)
	}

	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	sslmode := u.Query().Get("sslmode")
	if sslmode == "" {
		sslmode = "prefer"
	}
	return Target{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Database:       cfg.Database,
		SSLMode:        sslmode,
		ConnectTimeout: cfg.ConnectTimeout,
	}, nil
}
