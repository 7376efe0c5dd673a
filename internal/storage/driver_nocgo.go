//go:build !cgo
// +build !cgo

package storage

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hyperjump/kioku/internal/vector"
)

// DriverName is the pure-Go database/sql driver; vec_l2 is registered globally.
const DriverName = "sqlite"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction("vec_l2", 2, vecL2)
}

func vecL2(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_l2: first argument must be a blob")
	}
	b, ok := args[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_l2: second argument must be a blob")
	}
	d, err := vector.BlobL2(a, b)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func extensionDriver(path string) (string, error) {
	return "", fmt.Errorf("loading %s requires a cgo build", path)
}

func buildDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
