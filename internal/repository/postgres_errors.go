package repository

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// pqErrorCode はerrがpq.Errorであればそのエラーコードを返す。
func pqErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
