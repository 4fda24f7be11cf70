package ingest

import (
	"strings"

	"github.com/tidwall/gjson"
)

// parseJSON принимает массив строк либо объект экспорта с массивом в "results"
// (или "rows").
func parseJSON(payload []byte) ([]Row, error) {
	perr := &ParseError{}
	if !gjson.ValidBytes(payload) {
		perr.add(0, "payload", "invalid JSON")
		return nil, perr
	}

	root := gjson.ParseBytes(payload)
	list := root
	if root.IsObject() {
		list = firstOf(root, "results", "rows")
	}
	if !list.IsArray() {
		perr.add(0, "payload", "expected an array of results or an object with a results array")
		return nil, perr
	}

	var rows []Row
	line := 0
	list.ForEach(func(_, item gjson.Result) bool {
		line++
		if !item.IsObject() {
			perr.add(line, "row", "must be an object")
			return true
		}
		row := Row{Line: line, Status: normalizeStatus(firstOf(item, "status", "finish_status").String())}

		if id := firstOf(item, "entrant_id", "entrantId", "entrant"); !id.Exists() {
			perr.add(line, "entrant_id", "is required")
		} else if n, ok := jsonInt(id); !ok {
			perr.add(line, "entrant_id", "must be an integer")
		} else {
			row.EntrantID = n
		}
		row.Position = jsonOptionalInt(perr, line, "position", firstOf(item, "position", "pos"))
		row.Points = jsonOptionalInt(perr, line, "points", item.Get("points"))
		row.LapsCompleted = jsonOptionalInt(perr, line, "laps_completed", firstOf(item, "laps_completed", "lapsCompleted", "laps"))
		row.BestLapMs = jsonOptionalTime(perr, line, "best_lap_ms", firstOf(item, "best_lap_ms", "bestLapMs", "best_lap"))
		row.TotalTimeMs = jsonOptionalTime(perr, line, "total_time_ms", firstOf(item, "total_time_ms", "totalTimeMs", "total_time"))
		if p := item.Get("penalties"); p.Exists() && p.Type != gjson.Null {
			row.Penalties = []byte(p.Raw)
		}
		rows = append(rows, row)
		return true
	})

	if len(rows) == 0 && len(perr.Problems) == 0 {
		perr.add(0, "payload", "no result rows")
	}
	if err := perr.errOrNil(); err != nil {
		return nil, err
	}
	return rows, nil
}

func firstOf(v gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func jsonInt(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		if v.Num != float64(int64(v.Num)) {
			return 0, false
		}
		return int(v.Int()), true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		n := gjson.Parse(s)
		if n.Type != gjson.Number || n.Num != float64(int64(n.Num)) {
			return 0, false
		}
		return int(n.Int()), true
	}
	return 0, false
}

func jsonOptionalInt(perr *ParseError, line int, field string, v gjson.Result) *int {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	n, ok := jsonInt(v)
	if !ok {
		perr.add(line, field, "must be an integer")
		return nil
	}
	return &n
}

func jsonOptionalTime(perr *ParseError, line int, field string, v gjson.Result) *int64 {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		return &n
	case gjson.String:
		ms, err := ParseLapTime(v.Str)
		if err != nil {
			perr.add(line, field, "%v", err)
			return nil
		}
		return &ms
	}
	perr.add(line, field, "must be a number of milliseconds or a lap time string")
	return nil
}

func jsonValid(s string) bool {
	return gjson.Valid(s)
}
