package models

import "time"

// Season группирует этапы, по которым считается зачёт.
type Season struct {
	ID          int         `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Year        int         `json:"year" db:"year"`
	PointsTable PointsTable `json:"points_table,omitempty" db:"points_table"` // переопределяет таблицу по умолчанию
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// SeasonEntry - заявка пилота на сезон в конкретном классе (entrant).
// Класс фиксируется при заявке и не меняется от сессии к сессии.
type SeasonEntry struct {
	ID        int       `json:"id" db:"id"`
	SeasonID  int       `json:"season_id" db:"season_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	ClassName string    `json:"class_name" db:"class_name"`
	Number    *int      `json:"number,omitempty" db:"number"`
	EnteredAt time.Time `json:"entered_at" db:"entered_at"`
}

// PointsTable maps a finishing position to points. Positions missing from the
// table score zero.
type PointsTable map[int]int

func (t PointsTable) PointsFor(position int) int {
	if t == nil {
		return 0
	}
	return t[position]
}

// DefaultPointsTable - F1-style scheme used when neither the season nor the
// configuration provides one.
func DefaultPointsTable() PointsTable {
	return PointsTable{1: 25, 2: 18, 3: 15, 4: 12, 5: 10, 6: 8, 7: 6, 8: 4, 9: 2, 10: 1}
}
