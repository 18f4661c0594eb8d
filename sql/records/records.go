// Package records provides the persistence layer for synchronized records.
package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/sql"
)

// Add inserts a record, overwriting any previous value for the same id.
func Add(db sql.Executor, rec *types.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.UUID, err)
	}
	if _, err := db.Exec(`
		insert into records (id, created_at, value) values (?1, ?2, ?3)
		on conflict (id) do
		update set created_at = ?2, value = ?3;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, rec.UUID.String())
			stmt.BindInt64(2, rec.CreatedAt)
			stmt.BindBytes(3, value)
		}, nil); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.UUID, err)
	}
	return nil
}

// AddBatch atomically persists all records in the batch. Either every record
// is committed or none is.
func AddBatch(ctx context.Context, db *sql.Database, batch map[types.RecordID]*types.Record) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range batch {
			if err := Add(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the record with the given id, or sql.ErrNotFound.
func Get(db sql.Executor, id types.RecordID) (*types.Record, error) {
	var (
		rec      *types.Record
		innerErr error
	)
	rows, err := db.Exec("select value from records where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, id.String())
		}, func(stmt *sql.Statement) bool {
			value := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			rec = &types.Record{}
			innerErr = json.Unmarshal(value, rec)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("get record %s: %w", id, sql.ErrNotFound)
	}
	if innerErr != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, innerErr)
	}
	return rec, nil
}

// Has returns true if the record exists.
func Has(db sql.Executor, id types.RecordID) (bool, error) {
	rows, err := db.Exec("select 1 from records where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, id.String())
		}, nil)
	if err != nil {
		return false, fmt.Errorf("has record %s: %w", id, err)
	}
	return rows > 0, nil
}

// GetAll enumerates every stored record. Records that fail to decode are
// skipped; decoding errors are folded into the returned error.
func GetAll(db sql.Executor) (map[types.RecordID]*types.Record, error) {
	all := make(map[types.RecordID]*types.Record)
	var innerErr error
	if _, err := db.Exec("select value from records;", nil,
		func(stmt *sql.Statement) bool {
			value := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			rec := &types.Record{}
			if err := json.Unmarshal(value, rec); err != nil {
				innerErr = err
				return true
			}
			all[rec.UUID] = rec
			return true
		}); err != nil {
		return nil, fmt.Errorf("enumerate records: %w", err)
	}
	if innerErr != nil {
		return all, fmt.Errorf("decode records: %w", innerErr)
	}
	return all, nil
}

// Count returns the number of stored records.
func Count(db sql.Executor) (int, error) {
	var count int
	if _, err := db.Exec("select count(*) from records;", nil,
		func(stmt *sql.Statement) bool {
			count = int(stmt.ColumnInt64(0))
			return true
		}); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// GetExpired returns ids of records created strictly before cutoff (epoch ms).
func GetExpired(db sql.Executor, cutoff int64) ([]types.RecordID, error) {
	var (
		expired  []types.RecordID
		innerErr error
	)
	if _, err := db.Exec("select id from records where created_at < ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, cutoff)
		}, func(stmt *sql.Statement) bool {
			id, err := types.ParseRecordID(stmt.ColumnText(0))
			if err != nil {
				innerErr = err
				return true
			}
			expired = append(expired, id)
			return true
		}); err != nil {
		return nil, fmt.Errorf("select expired records: %w", err)
	}
	if innerErr != nil {
		return expired, fmt.Errorf("decode expired ids: %w", innerErr)
	}
	return expired, nil
}

// Delete removes a record.
func Delete(db sql.Executor, id types.RecordID) error {
	if _, err := db.Exec("delete from records where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, id.String())
		}, nil); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Clear removes every record.
func Clear(db sql.Executor) error {
	if _, err := db.Exec("delete from records;", nil, nil); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}
