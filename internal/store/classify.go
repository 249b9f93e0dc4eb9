package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

// pgTransientCodes are SQLSTATE codes for a server that is going away or
// refusing work. Classes 08 (connection exception) and 53 (insufficient
// resources) are matched by prefix.
var pgTransientCodes = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"57P05": true, // idle_session_timeout
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// classifyPostgres marks outages and retryable conflicts as an unavailable
// upstream. Constraint violations and bad queries are returned unchanged.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgTransientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") {
			return resilience.Unavailable("postgres", err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return resilience.Unavailable("postgres", err)
	}
	return resilience.Classify("postgres", err)
}

// classifySQLite marks a busy or locked database as an unavailable upstream.
func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return resilience.Unavailable("sqlite", err)
		}
		return err
	}
	return resilience.Classify("sqlite", err)
}

func pgWrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(classifyPostgres(err), msg)
}

func pgWrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(classifyPostgres(err), format, args...)
}

func sqliteWrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(classifySQLite(err), msg)
}

func sqliteWrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(classifySQLite(err), format, args...)
}
