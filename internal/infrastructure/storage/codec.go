// Package storage provides SQLite implementations of the application layer
// storage ports.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
)

// timeFormat keeps a fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// encodeFields stores nil fields as NULL.
func encodeFields(f entity.Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode fields: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeFields(s sql.NullString) (entity.Fields, error) {
	if !s.Valid {
		return nil, nil
	}
	var f entity.Fields
	if err := json.Unmarshal([]byte(s.String), &f); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return f, nil
}
