package sheets

import (
	"errors"
	"testing"
)

func TestToCSVPadsShortRows(t *testing.T) {
	rows := [][]string{
		{"entrant_id", "position", "status"},
		{"1", "1"},
		{"2", "2", "dnf", "ignored"},
	}
	got, err := ToCSV(rows)
	if err != nil {
		t.Fatalf("to csv: %v", err)
	}
	want := "entrant_id,position,status\n1,1,\n2,2,dnf\n"
	if string(got) != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestToCSVEmpty(t *testing.T) {
	if _, err := ToCSV(nil); !errors.Is(err, ErrEmptySheet) {
		t.Fatalf("expected ErrEmptySheet, got %v", err)
	}
}
