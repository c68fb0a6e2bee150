// Package migrations embeds the SQL schema for every supported driver.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// dirs maps a database/sql driver name to its migration directory.
var dirs = map[string]string{
	"sqlite3":  "sqlite",
	"postgres": "postgres",
}

// For returns the migrations for driver, rooted at the driver directory.
func For(driver string) (fs.FS, error) {
	dir, ok := dirs[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	return fs.Sub(files, dir)
}
