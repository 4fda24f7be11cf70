package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/services"
)

// multipart-оверхед сверх самого файла
const uploadFormOverhead = 1 << 20

type ResultHandler struct {
	ingestion *services.IngestionService
	catalog   *services.CatalogService
}

func NewResultHandler(is *services.IngestionService, cs *services.CatalogService) *ResultHandler {
	return &ResultHandler{
		ingestion: is,
		catalog:   cs,
	}
}

func (h *ResultHandler) RecordProvenance(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	var input services.ProvenanceInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.UploaderID = identity.UserID

	prov, err := h.ingestion.RecordProvenance(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"provenance": prov}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ResultHandler) GetProvenance(w http.ResponseWriter, r *http.Request) {
	provenanceID, err := getIDFromURL(r, "provenanceID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	prov, err := h.ingestion.GetProvenance(r.Context(), provenanceID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"provenance": prov}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ResultHandler) AttachArtifact(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	provenanceID, err := getIDFromURL(r, "provenanceID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.ArtifactInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.ProvenanceID = provenanceID
	input.UploaderID = identity.UserID

	artifact, err := h.ingestion.AttachArtifact(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"artifact": artifact}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UploadResults godoc
// @Summary Загрузить файл результатов сессии (CSV или JSON)
// @Tags results
// @Description Provenance и исходный файл сохраняются до разбора, поэтому при ошибке разбора в ответе есть provenance_id.
// @Accept multipart/form-data
// @Produce json
// @Param sessionID path int true "Session ID"
// @Param file formData file true "Файл результатов"
// @Param source formData string false "manual_upload | telemetry_export | timing_system"
// @Param notes formData string false "Комментарий"
// @Success 201 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{} "Ошибки строк"
// @Security BearerAuth
// @Router /sessions/{sessionID}/results/upload [post]
func (h *ResultHandler) UploadResults(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	sessionID, err := getIDFromURL(r, "sessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadBytes+uploadFormOverhead)
	if err := r.ParseMultipartForm(services.MaxUploadBytes + uploadFormOverhead); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			errorResponse(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload must not be larger than %d bytes", services.MaxUploadBytes))
			return
		}
		badRequestResponse(w, r, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequestResponse(w, r, errors.New("file field is required"))
		return
	}
	defer file.Close()

	source := models.ProvenanceSource(r.FormValue("source"))
	if source == "" {
		source = models.SourceManualUpload
	}
	var notes *string
	if v := r.FormValue("notes"); v != "" {
		notes = &v
	}

	report, err := h.ingestion.Ingest(r.Context(), services.UploadInput{
		SessionID:   sessionID,
		Source:      source,
		Notes:       notes,
		UploaderID:  identity.UserID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"report": report}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ResultHandler) ImportSheet(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	sessionID, err := getIDFromURL(r, "sessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.SheetImportInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.SessionID = sessionID
	input.UploaderID = identity.UserID

	report, err := h.ingestion.ImportSheet(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"report": report}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ResultHandler) UpsertResult(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	sessionID, err := getIDFromURL(r, "sessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	entrantID, err := getIDFromURL(r, "entrantID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var fields services.ResultFields
	if err := readJSON(w, r, &fields); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	report, err := h.ingestion.UpsertResult(r.Context(), sessionID, entrantID, fields, identity.UserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	status := http.StatusOK
	if report.Created {
		status = http.StatusCreated
	}
	if err := writeJSON(w, status, jsonResponse{"result": report}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ResultHandler) UpsertResultsBatch(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	var input services.BatchInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.ActorID = identity.UserID

	report, err := h.ingestion.UpsertResults(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"batch": report}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ResultHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	sessionID, err := getIDFromURL(r, "sessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	results, err := h.catalog.ListResults(r.Context(), sessionID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"results": results}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ResultHandler) FinalizeSession(w http.ResponseWriter, r *http.Request) {
	h.setFinalized(w, r, h.ingestion.FinalizeSession)
}

func (h *ResultHandler) ReopenSession(w http.ResponseWriter, r *http.Request) {
	h.setFinalized(w, r, h.ingestion.ReopenSession)
}

func (h *ResultHandler) setFinalized(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, sessionID, actorID int) (*models.Session, error)) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	sessionID, err := getIDFromURL(r, "sessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	session, err := apply(r.Context(), sessionID, identity.UserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"session": session}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
