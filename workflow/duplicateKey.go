package workflow

import (
	"errors"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// isDuplicateKeyErr detects a unique-index violation on MySQL (error 1062)
// and on the SQLite driver used by tests.
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
