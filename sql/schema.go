package sql

import (
	_ "embed"
	"fmt"
	"strings"
)

// DefaultSchema is the schema script applied to fresh databases.
//
//go:embed schema.sql
var DefaultSchema string

func applySchema(db *Database, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt, nil, nil); err != nil {
			return fmt.Errorf("apply %q: %w", stmt, err)
		}
	}
	return nil
}
