// Package migrations embeds the schema and seed SQL applied by cmd/migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Schema returns the ordered up/down migration files.
func Schema() fs.FS {
	sub, err := fs.Sub(sqlFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the SQL seed files.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFiles, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
