package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/sqlscript"
	"github.com/andrej220/autopilot/pkg/tasks"
)

const SQLSuccessMessage = "SQL script executed successfully."

// SQLExecutor runs a script file statement by statement against the database
// named in a DatabaseConfig. It keeps no state between calls.
type SQLExecutor struct {
	logger lg.Logger
}

func NewSQLExecutor(logger lg.Logger) *SQLExecutor {
	if logger == nil {
		logger = lg.Discard
	}
	return &SQLExecutor{logger: logger}
}

// Execute runs scriptPath inside one transaction and stops at the first
// failing statement, rolling back what ran before it. Drivers without
// interactive transactions (libSQL over HTTP) run statements one by one.
func (e *SQLExecutor) Execute(ctx context.Context, scriptPath string, cfg *tasks.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", tasks.Errorf(tasks.ErrMalformedTask, "missing database config")
	}
	info, err := os.Stat(scriptPath)
	if err != nil || !info.Mode().IsRegular() {
		return "", tasks.Errorf(tasks.ErrFileNotFound, "SQL file not found at path: %s", scriptPath)
	}
	if info.Size() == 0 {
		return "", tasks.Errorf(tasks.ErrFileNotFound, "SQL file is empty at path: %s", scriptPath)
	}

	target, err := resolveTarget(cfg)
	if err != nil {
		return "", &DBError{Class: ClassOther, Kind: tasks.ErrDatabaseConnection, Msg: err.Error(), Err: err}
	}
	logger := e.logger.With(lg.String("script", scriptPath), lg.String("driver", target.driver))

	f, err := os.Open(scriptPath)
	if err != nil {
		return "", tasks.Wrap(tasks.ErrFileNotFound, err, "SQL file not readable at path: %s", scriptPath)
	}
	defer f.Close()

	stmts, err := sqlscript.Split(f, target.dialect)
	if err != nil {
		return "", tasks.Wrap(tasks.ErrSQLExecution, err, "Failed to parse SQL file %s: %v", scriptPath, err)
	}

	db, err := sql.Open(target.driver, target.dsn)
	if err != nil {
		return "", connectionError(err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return "", connectionError(err)
	}

	out := lg.NewWriter(logger, zapcore.InfoLevel)
	errOut := lg.NewWriter(logger, zapcore.ErrorLevel)
	defer out.Flush()
	defer errOut.Flush()

	var exec interface {
		ExecContext(context.Context, string, ...any) (sql.Result, error)
	} = db
	var tx *sql.Tx
	if target.transactional {
		tx, err = db.BeginTx(ctx, nil)
		if err != nil {
			return "", connectionError(err)
		}
		defer func() {
			if tx != nil {
				_ = tx.Rollback()
			}
		}()
		exec = tx
	}

	logger.Info("running SQL script", lg.Int("statements", len(stmts)))
	for i, st := range stmts {
		fmt.Fprintln(out, st.SQL)
		if _, err := exec.ExecContext(ctx, st.SQL); err != nil {
			fmt.Fprintf(errOut, "Error executing: %s. Cause: %v\n", st.SQL, err)
			return "", statementError(i+1, st.Line, err)
		}
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return "", statementError(len(stmts), 0, err)
		}
		tx = nil
	}

	logger.Info(SQLSuccessMessage)
	return SQLSuccessMessage, nil
}

type dbTarget struct {
	driver        string
	dsn           string
	dialect       sqlscript.Dialect
	transactional bool
}

// resolveTarget picks the database/sql driver for a connection URL and folds
// the separate username/password fields into the DSN.
func resolveTarget(cfg *tasks.DatabaseConfig) (dbTarget, error) {
	raw := strings.TrimSpace(cfg.ConnectionURL)
	lower := strings.ToLower(raw)

	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		u, err := url.Parse(raw)
		if err != nil {
			return dbTarget{}, fmt.Errorf("invalid connection URL: %w", err)
		}
		if cfg.Username != "" {
			if cfg.Password != "" {
				u.User = url.UserPassword(cfg.Username, cfg.Password)
			} else {
				u.User = url.User(cfg.Username)
			}
		}
		return dbTarget{driver: "postgres", dsn: u.String(), dialect: sqlscript.DialectPostgres, transactional: true}, nil

	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		u, err := url.Parse(raw)
		if err != nil {
			return dbTarget{}, fmt.Errorf("invalid connection URL: %w", err)
		}
		if cfg.Password != "" {
			q := u.Query()
			if q.Get("authToken") == "" {
				q.Set("authToken", cfg.Password)
				u.RawQuery = q.Encode()
			}
		}
		return dbTarget{driver: "libsql", dsn: u.String(), dialect: sqlscript.DialectGeneric}, nil

	case strings.HasPrefix(lower, "sqlite://"):
		path := raw[len("sqlite://"):]
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path == "" {
			return dbTarget{}, errors.New("invalid connection URL: empty sqlite path")
		}
		return dbTarget{driver: "sqlite", dsn: path, dialect: sqlscript.DialectGeneric, transactional: true}, nil

	case strings.HasPrefix(lower, "file:"), lower == ":memory:",
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return dbTarget{driver: "sqlite", dsn: raw, dialect: sqlscript.DialectGeneric, transactional: true}, nil
	}
	return dbTarget{}, fmt.Errorf("unsupported connection URL scheme: %s", redactURL(raw))
}

// redactURL drops credentials before a URL is shown in messages.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		if i := strings.Index(raw, "@"); i >= 0 {
			return "***" + raw[i:]
		}
		return raw
	}
	return u.Redacted()
}
