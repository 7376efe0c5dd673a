//go:build cgo
// +build cgo

package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/vector"
)

// DriverName is the database/sql driver with the vec_l2 function registered.
const DriverName = "sqlite3_kioku"

var (
	extDriversMu sync.Mutex
	extDrivers   = make(map[string]string)
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{ConnectHook: registerFunctions})
}

func registerFunctions(conn *sqlite3.SQLiteConn) error {
	return conn.RegisterFunc("vec_l2", vector.BlobL2, true)
}

// extensionDriver registers (once per path) a driver that loads the
// sqlite-vec library into every new connection.
func extensionDriver(path string) (string, error) {
	extDriversMu.Lock()
	defer extDriversMu.Unlock()
	if name, ok := extDrivers[path]; ok {
		return name, nil
	}
	sum := sha256.Sum256([]byte(path))
	name := DriverName + "_vec_" + hex.EncodeToString(sum[:6])
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := registerFunctions(conn); err != nil {
				return err
			}
			if err := conn.LoadExtension(path, vector.ExtensionEntryPoint); err != nil {
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
			return nil
		},
	})
	extDrivers[path] = name
	return name, nil
}

func buildDSN(path string, busyTimeout time.Duration) string {
	v := url.Values{}
	v.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	v.Set("_journal_mode", "WAL")
	v.Set("_synchronous", "NORMAL")
	v.Set("_txlock", "immediate")
	return "file:" + path + "?" + v.Encode()
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
