package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Допустимые заголовки колонок и их синонимы.
var csvColumns = map[string]string{
	"entrant_id":     "entrant_id",
	"entrant":        "entrant_id",
	"position":       "position",
	"pos":            "position",
	"points":         "points",
	"best_lap_ms":    "best_lap_ms",
	"best_lap":       "best_lap_ms",
	"total_time_ms":  "total_time_ms",
	"total_time":     "total_time_ms",
	"laps_completed": "laps_completed",
	"laps":           "laps_completed",
	"status":         "status",
	"penalties":      "penalties",
}

func parseCSV(payload []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(payload))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	perr := &ParseError{}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		perr.add(0, "payload", "no header row")
		return nil, perr
	}
	if err != nil {
		perr.add(0, "payload", "%v", err)
		return nil, perr
	}

	index := map[string]int{}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canonical, ok := csvColumns[key]; ok {
			index[canonical] = i
		}
	}
	if _, ok := index["entrant_id"]; !ok {
		perr.add(0, "header", "missing entrant_id column")
		return nil, perr
	}

	var rows []Row
	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			perr.add(line, "payload", "%v", err)
			continue
		}
		if isBlank(record) {
			line--
			continue
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		row := Row{Line: line, Status: normalizeStatus(get("status"))}
		if v := get("entrant_id"); v == "" {
			perr.add(line, "entrant_id", "is required")
		} else if id, err := strconv.Atoi(v); err != nil {
			perr.add(line, "entrant_id", "must be an integer")
		} else {
			row.EntrantID = id
		}
		row.Position = parseOptionalInt(perr, line, "position", get("position"))
		row.Points = parseOptionalInt(perr, line, "points", get("points"))
		row.LapsCompleted = parseOptionalInt(perr, line, "laps_completed", get("laps_completed"))
		row.BestLapMs = parseOptionalTime(perr, line, "best_lap_ms", get("best_lap_ms"))
		row.TotalTimeMs = parseOptionalTime(perr, line, "total_time_ms", get("total_time_ms"))
		if v := get("penalties"); v != "" {
			if !jsonValid(v) {
				perr.add(line, "penalties", "must be valid JSON")
			} else {
				row.Penalties = []byte(v)
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 && len(perr.Problems) == 0 {
		perr.add(0, "payload", "no result rows")
	}
	if err := perr.errOrNil(); err != nil {
		return nil, err
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseOptionalInt(perr *ParseError, line int, field, v string) *int {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		perr.add(line, field, "must be an integer")
		return nil
	}
	return &n
}

func parseOptionalTime(perr *ParseError, line int, field, v string) *int64 {
	if v == "" {
		return nil
	}
	ms, err := ParseLapTime(v)
	if err != nil {
		perr.add(line, field, "%v", err)
		return nil
	}
	return &ms
}
