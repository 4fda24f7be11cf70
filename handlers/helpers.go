package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dosada05/club-engine/middleware"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/services"
	"github.com/go-chi/chi/v5"
)

type jsonResponse map[string]interface{}

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	maxBytes := 1_048_576 // 1MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var invalidUnmarshalError *json.InvalidUnmarshalError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			if unmarshalTypeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", unmarshalTypeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return fmt.Errorf("body contains unknown key %s", fieldName)
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBytes)
		case errors.As(err, &invalidUnmarshalError):
			panic(err) // ошибка программиста: передан не указатель
		default:
			return err
		}
	}

	err = dec.Decode(&struct{}{})
	if !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, headers http.Header) error {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

func errorResponse(w http.ResponseWriter, r *http.Request, status int, message interface{}) {
	errorResponseWith(w, r, status, jsonResponse{"error": message})
}

func errorResponseWith(w http.ResponseWriter, r *http.Request, status int, body jsonResponse) {
	if err := writeJSON(w, status, body, nil); err != nil {
		slog.ErrorContext(r.Context(), "failed to write error response", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	message := "the server encountered a problem and could not process your request"
	errorResponse(w, r, http.StatusInternalServerError, message)
}

func badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func notFoundResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(w, r, http.StatusNotFound, err.Error())
}

func conflictResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusConflict, message)
}

func unauthorizedResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusUnauthorized, message)
}

func forbiddenResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusForbidden, message)
}

// mapServiceErrorToHTTP преобразует ошибки сервисного слоя в HTTP-ответы.
func mapServiceErrorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	body := jsonResponse{}
	var ingestErr *services.IngestError
	if errors.As(err, &ingestErr) {
		body["provenance_id"] = ingestErr.ProvenanceID
	}

	var (
		validationErr *services.ValidationError
		batchErr      *services.BatchValidationError
	)
	switch {
	case errors.As(err, &batchErr):
		body["error"] = services.ErrValidationFailed.Error()
		body["rows"] = batchErr.Rows
		errorResponseWith(w, r, http.StatusUnprocessableEntity, body)
		return
	case errors.As(err, &validationErr):
		body["error"] = services.ErrValidationFailed.Error()
		body["fields"] = validationErr.Errors
		errorResponseWith(w, r, http.StatusUnprocessableEntity, body)
		return
	}

	status := http.StatusInternalServerError
	switch {
	// Не найдено
	case errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrRegistrationNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrSeasonNotFound),
		errors.Is(err, services.ErrEntrantNotFound),
		errors.Is(err, services.ErrProvenanceNotFound):
		status = http.StatusNotFound

	// Невалидный ввод
	case errors.Is(err, services.ErrValidationFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidRSVPStatus),
		errors.Is(err, services.ErrInvalidCheckInMethod):
		status = http.StatusBadRequest

	// Конфликты и бизнес-правила
	case errors.Is(err, services.ErrEventSlugConflict),
		errors.Is(err, services.ErrSeasonEntryConflict),
		errors.Is(err, services.ErrCheckInNotOpen):
		status = http.StatusConflict

	// Доступ
	case errors.Is(err, services.ErrSelfCheckInMismatch),
		errors.Is(err, services.ErrInvalidQRToken),
		errors.Is(err, services.ErrForbiddenOperation):
		status = http.StatusForbidden

	case errors.Is(err, services.ErrSheetImportDisabled):
		status = http.StatusNotImplemented
	case errors.Is(err, services.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		if len(body) == 0 {
			serverErrorResponse(w, r, err)
			return
		}
		slog.ErrorContext(r.Context(), "ingestion failed", slog.Any("error", err))
		body["error"] = "the server encountered a problem and could not process your request"
		errorResponseWith(w, r, status, body)
		return
	}
	body["error"] = err.Error()
	errorResponseWith(w, r, status, body)
}

func getIDFromURL(r *http.Request, paramName string) (int, error) {
	idStr := chi.URLParam(r, paramName)
	if idStr == "" {
		return 0, fmt.Errorf("missing %s in URL path", paramName)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %q", paramName, idStr)
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid %s value: %d", paramName, id)
	}
	return id, nil
}

// optionalIntQuery разбирает необязательный числовой query-параметр.
func optionalIntQuery(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s query parameter: %q", name, raw)
	}
	return &v, nil
}

// currentIdentity пишет 401 и возвращает false, если запрос не аутентифицирован.
func currentIdentity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, err := middleware.CurrentIdentity(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return models.Identity{}, false
	}
	return identity, true
}
