//go:build sqlite
// +build sqlite

package store

// The sqlite3 driver needs CGO, so it is only linked in with -tags sqlite.
import _ "github.com/mattn/go-sqlite3"
