package models

import "time"

type ProvenanceSource string

const (
	SourceManualUpload    ProvenanceSource = "manual_upload"
	SourceTelemetryExport ProvenanceSource = "telemetry_export"
	SourceTimingSystem    ProvenanceSource = "timing_system"
	SourceSheetImport     ProvenanceSource = "sheet_import"
)

func (s ProvenanceSource) Valid() bool {
	switch s {
	case SourceManualUpload, SourceTelemetryExport, SourceTimingSystem, SourceSheetImport:
		return true
	}
	return false
}

// Provenance описывает происхождение загруженного протокола результатов. Неизменяем.
type Provenance struct {
	ID          int              `json:"id" db:"id"`
	Source      ProvenanceSource `json:"source" db:"source"`
	PayloadHash string           `json:"payload_hash" db:"payload_hash"`
	UploaderID  int              `json:"uploader_id" db:"uploader_id"`
	Notes       *string          `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`

	Artifacts []Artifact `json:"artifacts,omitempty" db:"-"`
}

// Artifact - сохранённый исходный файл, привязанный к Provenance.
type Artifact struct {
	ID              int       `json:"id" db:"id"`
	ProvenanceID    int       `json:"provenance_id" db:"provenance_id"`
	StorageLocation string    `json:"storage_location" db:"storage_location"`
	ContentType     string    `json:"content_type" db:"content_type"`
	ByteSize        int64     `json:"byte_size" db:"byte_size"`
	CreatedBy       int       `json:"created_by" db:"created_by"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
