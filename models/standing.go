package models

// Standing - вычисляемая строка зачёта. В БД не хранится.
type Standing struct {
	EntrantID    int    `json:"entrant_id"`
	UserID       int    `json:"user_id"`
	ClassName    string `json:"class_name"`
	Points       int    `json:"points"`
	RacesCounted int    `json:"races_counted"`
	Wins         int    `json:"wins"`
	Podiums      int    `json:"podiums"`
	// FinishCounts содержит только занятые позиции, по возрастанию.
	FinishCounts []FinishCount `json:"finish_counts"`
	Rank         int           `json:"rank"`
}

// FinishCount - сколько раз участник финишировал на позиции Position.
type FinishCount struct {
	Position int `json:"position"`
	Count    int `json:"count"`
}

// SeasonStandings maps a class name to its ranked standings.
type SeasonStandings map[string][]Standing
