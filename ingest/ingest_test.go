package ingest

import (
	"errors"
	"testing"
)

func TestParseCSV(t *testing.T) {
	payload := []byte("Entrant,Pos,Best_Lap,Total_Time_ms,Laps,Status,Penalties\n" +
		"11,1,1:23.456,1800000,20,Finished,\n" +
		"12,,83.5,,4,DNF,\"{\"\"seconds\"\":5}\"\n" +
		"\n")

	rows, err := Parse(FormatCSV, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	first := rows[0]
	if first.EntrantID != 11 || *first.Position != 1 || *first.BestLapMs != 83456 || *first.TotalTimeMs != 1800000 || *first.LapsCompleted != 20 {
		t.Fatalf("unexpected first row %+v", first)
	}
	if first.Status != "finished" {
		t.Fatalf("status must be normalized, got %q", first.Status)
	}
	second := rows[1]
	if second.Position != nil || second.TotalTimeMs != nil {
		t.Fatalf("empty cells must stay nil, got %+v", second)
	}
	if second.Status != "dnf" || string(second.Penalties) != `{"seconds":5}` || second.Line != 2 {
		t.Fatalf("unexpected second row %+v", second)
	}
}

func TestParseCSVCollectsAllProblems(t *testing.T) {
	payload := []byte("entrant_id,position,best_lap_ms\n" +
		"1,1,1000\n" +
		"x,2,1000\n" +
		"3,first,abc\n")

	_, err := Parse(FormatCSV, payload)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if len(perr.Problems) != 3 {
		t.Fatalf("expected 3 problems, got %+v", perr.Problems)
	}
	if perr.Problems[0].Line != 2 || perr.Problems[0].Field != "entrant_id" {
		t.Fatalf("unexpected first problem %+v", perr.Problems[0])
	}
}

func TestParseCSVRequiresEntrantColumn(t *testing.T) {
	_, err := Parse(FormatCSV, []byte("position\n1\n"))
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Problems[0].Field != "header" {
		t.Fatalf("expected header problem, got %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "array", payload: `[{"entrant_id": 5, "position": 2, "best_lap_ms": 61000, "status": "FINISHED", "penalties": [{"type": "drive_through"}]}]`},
		{name: "export object", payload: `{"session": "race 1", "results": [{"entrantId": "5", "pos": 2, "best_lap": "1:01.000", "status": "finished", "penalties": [{"type": "drive_through"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Parse(FormatJSON, []byte(tt.payload))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(rows) != 1 {
				t.Fatalf("expected 1 row, got %d", len(rows))
			}
			r := rows[0]
			if r.EntrantID != 5 || *r.Position != 2 || *r.BestLapMs != 61000 || r.Status != "finished" {
				t.Fatalf("unexpected row %+v", r)
			}
			if string(r.Penalties) != `[{"type": "drive_through"}]` {
				t.Fatalf("penalties must be kept verbatim, got %s", r.Penalties)
			}
		})
	}
}

func TestParseJSONErrors(t *testing.T) {
	for _, payload := range []string{`{not json`, `{"foo": 1}`, `[]`, `[1, {"position": 1.5, "entrant_id": 1}]`} {
		if _, err := Parse(FormatJSON, []byte(payload)); err == nil {
			t.Fatalf("%s: expected error", payload)
		}
	}
}

func TestParseLapTime(t *testing.T) {
	tests := map[string]int64{
		"83456":      83456,
		"83.456":     83456,
		"1:23.456":   83456,
		"1:02:03.5":  3723500,
		" 0:59.999 ": 59999,
	}
	for in, want := range tests {
		got, err := ParseLapTime(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %d, got %d", in, want, got)
		}
	}
	for _, bad := range []string{"", "a:10", "1:2:3:4", "-5.0"} {
		if _, err := ParseLapTime(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	if f, err := DetectFormat("text/csv; charset=utf-8", ""); err != nil || f != FormatCSV {
		t.Fatalf("expected csv, got %v %v", f, err)
	}
	if f, err := DetectFormat("application/octet-stream", "export.JSON"); err != nil || f != FormatJSON {
		t.Fatalf("expected json, got %v %v", f, err)
	}
	if _, err := DetectFormat("application/pdf", "protocol.pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
