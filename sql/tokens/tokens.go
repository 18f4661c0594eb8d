// Package tokens persists the login token in the session table.
package tokens

import (
	"encoding/json"
	"fmt"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/sql"
)

const loginTokenKey = "loginToken"

// AddLoginToken stores the login token, replacing any previous one.
func AddLoginToken(db sql.Executor, token *types.LoginToken) error {
	value, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if _, err := db.Exec(`
		insert into session (id, value) values (?1, ?2)
		on conflict (id) do
		update set value = ?2;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, loginTokenKey)
			stmt.BindBytes(2, value)
		}, nil); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetLoginToken returns the stored login token or sql.ErrNotFound.
func GetLoginToken(db sql.Executor) (*types.LoginToken, error) {
	var (
		token    *types.LoginToken
		innerErr error
	)
	rows, err := db.Exec("select value from session where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, loginTokenKey)
		}, func(stmt *sql.Statement) bool {
			value := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			token = &types.LoginToken{}
			innerErr = json.Unmarshal(value, token)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("get token: %w", sql.ErrNotFound)
	}
	if innerErr != nil {
		return nil, fmt.Errorf("decode token: %w", innerErr)
	}
	return token, nil
}

// ClearLoginToken deletes the stored login token if present.
func ClearLoginToken(db sql.Executor) error {
	if _, err := db.Exec("delete from session where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, loginTokenKey)
		}, nil); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
