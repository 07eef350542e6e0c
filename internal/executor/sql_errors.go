package executor

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/andrej220/autopilot/pkg/tasks"
)

// DBErrorClass buckets driver errors into the few cases an operator acts on.
type DBErrorClass string

const (
	ClassInvalidCredentials DBErrorClass = "invalid-credentials"
	ClassConnectionRefused  DBErrorClass = "connection-refused"
	ClassOther              DBErrorClass = "other"
)

const (
	msgInvalidCredentials = "Invalid DB credentials"
	msgConnectionFailed   = "Database connection failed"
)

// DBError is the failure returned by SQLExecutor. Kind is
// tasks.ErrDatabaseConnection or tasks.ErrSQLExecution.
type DBError struct {
	Class DBErrorClass
	Code  string
	Kind  error
	Msg   string
	Err   error
}

func (e *DBError) Error() string { return e.Msg }

func (e *DBError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ClassOf returns the class of a database failure, or "" when err is not one.
func ClassOf(err error) DBErrorClass {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.Class
	}
	return ""
}

// classifyDBError maps a driver error to a class, its provider code and the
// message shown in reports.
func classifyDBError(err error) (DBErrorClass, string, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch code {
		case "28P01", "28000":
			return ClassInvalidCredentials, code, msgInvalidCredentials
		case "08001", "08004", "08006", "57P03":
			return ClassConnectionRefused, code, msgConnectionFailed
		}
		return ClassOther, code, fmt.Sprintf("SQL execution failed with code %s: %s", code, pqErr.Message)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
			return ClassInvalidCredentials, fmt.Sprint(code), msgInvalidCredentials
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
			return ClassConnectionRefused, fmt.Sprint(code), msgConnectionFailed
		}
		return ClassOther, fmt.Sprint(code), fmt.Sprintf("SQL execution failed with code %d: %s", code, liteErr.Error())
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ClassConnectionRefused, "", msgConnectionFailed
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassConnectionRefused, "", msgConnectionFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ClassConnectionRefused, "", msgConnectionFailed
	}
	return ClassOther, "", fmt.Sprintf("SQL execution failed: %v", err)
}

// connectionError classifies a failure seen while opening the connection.
func connectionError(err error) error {
	class, code, msg := classifyDBError(err)
	if class == ClassOther {
		msg = fmt.Sprintf("%s: %s", msgConnectionFailed, msg)
	}
	return &DBError{Class: class, Code: code, Kind: tasks.ErrDatabaseConnection, Msg: msg, Err: err}
}

// statementError classifies a failure of statement n. Drivers that connect
// lazily report auth and connect failures here too, so those keep the
// connection kind.
func statementError(n, line int, err error) error {
	class, code, msg := classifyDBError(err)
	kind := tasks.ErrSQLExecution
	if class != ClassOther {
		kind = tasks.ErrDatabaseConnection
	}
	where := fmt.Sprintf("statement #%d", n)
	if line > 0 {
		where = fmt.Sprintf("statement #%d (line %d)", n, line)
	}
	return &DBError{Class: class, Code: code, Kind: kind, Msg: fmt.Sprintf("%s: %s", where, msg), Err: err}
}
