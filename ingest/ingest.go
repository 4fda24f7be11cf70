// Package ingest parses raw result payloads (CSV sheets, JSON exports from
// timing systems) into rows. It checks syntax only; range rules belong to the
// ingestion service.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Row - одна строка протокола. Line нумеруется с 1 по строкам данных.
type Row struct {
	Line          int
	EntrantID     int
	Position      *int
	Points        *int
	BestLapMs     *int64
	TotalTimeMs   *int64
	LapsCompleted *int
	Status        string
	Penalties     json.RawMessage
}

type Problem struct {
	Line    int    `json:"line"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ParseError collects every syntax problem in the payload.
type ParseError struct {
	Problems []Problem
}

func (e *ParseError) Error() string {
	if len(e.Problems) == 1 {
		p := e.Problems[0]
		return fmt.Sprintf("parse results: line %d: %s: %s", p.Line, p.Field, p.Message)
	}
	return fmt.Sprintf("parse results: %d problems", len(e.Problems))
}

func (e *ParseError) add(line int, field, format string, args ...interface{}) {
	e.Problems = append(e.Problems, Problem{Line: line, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ParseError) errOrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

var ErrUnsupportedFormat = errors.New("unsupported results format")

// DetectFormat выбирает формат по Content-Type, затем по расширению файла.
func DetectFormat(contentType, filename string) (Format, error) {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "text/csv", "application/csv":
			return FormatCSV, nil
		case "application/json", "text/json":
			return FormatJSON, nil
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: content type %q, file %q", ErrUnsupportedFormat, contentType, filename)
}

func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

func (f Format) Ext() string {
	return "." + string(f)
}

func Parse(format Format, payload []byte) ([]Row, error) {
	switch format {
	case FormatCSV:
		return parseCSV(payload)
	case FormatJSON:
		return parseJSON(payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// ParseLapTime принимает миллисекунды ("83456"), секунды с дробью ("83.456")
// или запись с двоеточиями ("1:23.456", "1:02:03.5").
func ParseLapTime(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty time")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", raw)
	}
	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid time %q", raw)
	}
	total := time.Duration(secs * float64(time.Second))
	units := []time.Duration{time.Minute, time.Hour}
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time %q", raw)
		}
		total += time.Duration(n) * units[len(parts)-2-i]
	}
	return total.Round(time.Millisecond).Milliseconds(), nil
}

func normalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
