package database

import (
	"errors"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// IsDuplicateKey reports whether err is a unique-constraint violation on any
// of the supported drivers. GORM's TranslateError covers the common case;
// the driver checks remain as a fallback for raw SQL paths.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}

	// sqlite驱动没有结构化错误码
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
