package sqlutil

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestTextRoundTrip(t *testing.T) {
	if got := FromText(ToText(nil)); got != nil {
		t.Errorf("nil text became %q", *got)
	}
	s := "alice"
	if got := FromText(ToText(&s)); got == nil || *got != s {
		t.Errorf("FromText(ToText(%q)) = %v", s, got)
	}
}

func TestDate(t *testing.T) {
	d := "2025-06-30"
	pd, err := ToDate(&d)
	if err != nil {
		t.Fatal(err)
	}
	if !pd.Valid || pd.Time.Day() != 30 {
		t.Errorf("ToDate = %+v", pd)
	}
	if got := FromDate(pd); got == nil || *got != d {
		t.Errorf("FromDate = %v", got)
	}

	bad := "30/06/2025"
	if _, err := ToDate(&bad); err == nil {
		t.Error("expected error for malformed date")
	}
	if got := FromDate(pgtype.Date{}); got != nil {
		t.Errorf("invalid date became %q", *got)
	}
}

func TestTimestamptzAndInts(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := FromTimestamptz(ToTimestamptz(&now)); got == nil || !got.Equal(now) {
		t.Errorf("timestamptz round trip = %v", got)
	}
	if FromTimestamptz(ToTimestamptz(nil)) != nil {
		t.Error("nil timestamp should stay nil")
	}

	fid := int64(42)
	if got := FromInt8(ToInt8(&fid)); got == nil || *got != 42 {
		t.Errorf("int8 round trip = %v", got)
	}
	if got := FromInt4(pgtype.Int4{Int32: 3, Valid: true}); got == nil || *got != 3 {
		t.Errorf("FromInt4 = %v", got)
	}
	if FromInt4(pgtype.Int4{}) != nil {
		t.Error("invalid int4 should be nil")
	}
}
