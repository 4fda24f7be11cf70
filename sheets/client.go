package sheets

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// DefaultRange читается, если диапазон не указан.
const DefaultRange = "Results!A:Z"

var ErrEmptySheet = errors.New("sheet range contains no rows")

// Client читает таблицы результатов из Google Sheets.
type Client struct {
	srv *sheetsv4.Service
}

func New(ctx context.Context, serviceAccountJSONPath string) (*Client, error) {
	if _, err := os.Stat(serviceAccountJSONPath); err != nil {
		return nil, fmt.Errorf("service account json: %w", err)
	}
	srv, err := sheetsv4.NewService(ctx,
		option.WithCredentialsFile(serviceAccountJSONPath),
		option.WithScopes(sheetsv4.SpreadsheetsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{srv: srv}, nil
}

// ReadRange returns the cells of the range as strings; the first row is the header.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	if rng == "" {
		rng = DefaultRange
	}
	resp, err := c.srv.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %s range %s: %w", spreadsheetID, rng, err)
	}
	if len(resp.Values) == 0 {
		return nil, ErrEmptySheet
	}
	out := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strings.TrimSpace(fmt.Sprint(v))
		}
		out = append(out, cells)
	}
	return out, nil
}

// ToCSV сериализует строки листа в CSV, выравнивая их по ширине заголовка:
// API не возвращает пустые ячейки в конце строки.
func ToCSV(rows [][]string) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	width := len(rows[0])
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		record := make([]string, width)
		copy(record, row)
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
