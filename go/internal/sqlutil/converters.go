package sqlutil

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Helper functions for converting between Go types and pgtype values

// ToText converts a Go string pointer to pgtype.Text
func ToText(val *string) pgtype.Text {
	if val == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *val, Valid: true}
}

// FromText converts pgtype.Text to a Go string pointer
func FromText(val pgtype.Text) *string {
	if !val.Valid {
		return nil
	}
	s := val.String
	return &s
}

// ToInt8 converts a Go int64 pointer to pgtype.Int8
func ToInt8(val *int64) pgtype.Int8 {
	if val == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *val, Valid: true}
}

// FromInt8 converts pgtype.Int8 to a Go int64 pointer
func FromInt8(val pgtype.Int8) *int64 {
	if !val.Valid {
		return nil
	}
	i := val.Int64
	return &i
}

// FromInt4 converts pgtype.Int4 to a Go int pointer
func FromInt4(val pgtype.Int4) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

// ToTimestamptz converts a Go time pointer to pgtype.Timestamptz
func ToTimestamptz(val *time.Time) pgtype.Timestamptz {
	if val == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *val, Valid: true}
}

// FromTimestamptz converts pgtype.Timestamptz to a Go time pointer
func FromTimestamptz(val pgtype.Timestamptz) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}

// ToDate parses a YYYY-MM-DD string pointer into pgtype.Date
func ToDate(val *string) (pgtype.Date, error) {
	if val == nil {
		return pgtype.Date{}, nil
	}
	t, err := time.Parse(time.DateOnly, *val)
	if err != nil {
		return pgtype.Date{}, fmt.Errorf("invalid date %q: %w", *val, err)
	}
	return pgtype.Date{Time: t, Valid: true}, nil
}

// FromDate formats pgtype.Date as a YYYY-MM-DD string pointer
func FromDate(val pgtype.Date) *string {
	if !val.Valid {
		return nil
	}
	s := val.Time.Format(time.DateOnly)
	return &s
}
