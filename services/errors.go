package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Dosada05/club-engine/repositories"
)

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден
	ErrEventNotFound        = errors.New("event not found")
	ErrRegistrationNotFound = errors.New("active registration not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSeasonNotFound       = errors.New("season not found")
	ErrEntrantNotFound      = errors.New("season entrant not found")
	ErrProvenanceNotFound   = errors.New("provenance record not found")

	// Ошибки валидации и бизнес-правил
	ErrValidationFailed     = errors.New("validation failed")
	ErrInvalidRSVPStatus    = errors.New("invalid rsvp status")
	ErrInvalidCheckInMethod = errors.New("invalid check-in method")
	ErrCheckInNotOpen       = errors.New("check-in is not open for this event")
	ErrSelfCheckInMismatch  = errors.New("self check-in requires the actor to be the attendee")
	ErrInvalidQRToken       = errors.New("invalid check-in token")
	ErrSheetImportDisabled  = errors.New("sheet import is not configured")

	// Конфликты
	ErrEventSlugConflict   = errors.New("event slug is already in use")
	ErrSeasonEntryConflict = errors.New("user is already entered in this class")

	// Авторизация
	ErrForbiddenOperation = errors.New("operation not allowed for the current user")

	// Инфраструктура. Совпадает с ошибкой хранилища, чтобы errors.Is работал сквозь слои.
	ErrStorageUnavailable = repositories.ErrStoreUnavailable
)

// FieldError описывает ошибку одного поля.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError - набор ошибок полей. errors.Is(err, ErrValidationFailed) == true.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// errOrNil returns nil when no field failed.
func (e *ValidationError) errOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// RowError - ошибки одной строки пакетной загрузки. Row нумеруется с 1.
type RowError struct {
	Row       int          `json:"row"`
	SessionID int          `json:"session_id"`
	EntrantID int          `json:"entrant_id"`
	Errors    []FieldError `json:"errors"`
}

// BatchValidationError перечисляет все невалидные строки пакета, а не только первую.
type BatchValidationError struct {
	Rows []RowError `json:"rows"`
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("%s: %d of the batch rows are invalid", ErrValidationFailed, len(e.Rows))
}

func (e *BatchValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// IngestError сообщает о сбое разбора/загрузки после того, как provenance уже сохранён.
type IngestError struct {
	ProvenanceID int
	Err          error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingestion of provenance %d failed: %v", e.ProvenanceID, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// storageFault wraps an unexpected repository error, keeping ErrStorageUnavailable visible.
func storageFault(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
