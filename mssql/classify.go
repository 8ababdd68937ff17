package mssql

import (
	"context"
	"database/sql/driver"
	"io"
	"net"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/ha1tch/nusql/pkg/errors"
)

// SQL Server error numbers the classifier treats specially.
const (
	sqlErrLoginFailed    = 18456
	sqlErrPermissionDML  = 229
	sqlErrPermissionDDL  = 230
	sqlErrConstraintFK   = 547
	sqlErrDuplicateKey   = 2627
	sqlErrDuplicateIndex = 2601
)

// ClassifyQueryError classifies a failure observed while executing a query
// or reading its rows. Every error crossing the host boundary goes through
// here or ClassifyConnectError first; the host never sees a raw driver
// error.
func ClassifyQueryError(err error) error {
	if err == nil {
		return nil
	}

	// Already classified upstream.
	var structured *errors.Error
	if errors.As(err, &structured) {
		return structured
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeQueryTimeout, "query exceeded its time bound")
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrCodeStreamAbandoned, "query canceled by consumer")
	}

	// Server-reported errors carry a number; never retried, surfaced
	// verbatim with the server detail.
	var serr mssqldb.Error
	if errors.As(err, &serr) {
		code := errors.ErrCodeQueryRejected
		switch serr.SQLErrorNumber() {
		case sqlErrLoginFailed:
			code = errors.ErrCodeAuthFailed
		case sqlErrPermissionDML, sqlErrPermissionDDL:
			code = errors.ErrCodePermissionDenied
		case sqlErrConstraintFK, sqlErrDuplicateKey, sqlErrDuplicateIndex:
			code = errors.ErrCodeConstraint
		}
		return errors.Wrap(err, code, "server rejected query").
			WithField("number", serr.SQLErrorNumber()).
			WithField("line", serr.SQLErrorLineNo())
	}

	if errors.Is(err, driver.ErrBadConn) {
		return errors.Wrap(err, errors.ErrCodeConnectionClosed, "connection lost")
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return errors.Wrap(err, errors.ErrCodeQueryTimeout, "network timeout")
		}
		return errors.Wrap(err, errors.ErrCodeConnectionFailed, "network failure")
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(err, errors.ErrCodeProtocolError, "unexpected end of response stream")
	}

	return errors.Wrap(err, errors.ErrCodeQueryRejected, "query failed")
}

// ClassifyConnectError classifies a failure during session establishment
// or health probing.
func ClassifyConnectError(err error) error {
	if err == nil {
		return nil
	}

	var structured *errors.Error
	if errors.As(err, &structured) {
		return structured
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeConnectTimeout, "connection attempt timed out")
	}

	var serr mssqldb.Error
	if errors.As(err, &serr) {
		if serr.SQLErrorNumber() == sqlErrLoginFailed {
			return errors.Wrap(err, errors.ErrCodeAuthFailed, "login failed")
		}
		return errors.Wrap(err, errors.ErrCodeConnectionFailed, "server refused connection").
			WithField("number", serr.SQLErrorNumber())
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Wrap(err, errors.ErrCodeConnectTimeout, "network timeout")
	}

	return errors.Wrap(err, errors.ErrCodeConnectionFailed, "cannot establish connection")
}
