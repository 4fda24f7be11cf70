package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/services"
)

type AttendanceHandler struct {
	attendance *services.AttendanceService
}

func NewAttendanceHandler(as *services.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: as}
}

type checkInRequest struct {
	UserID   int    `json:"user_id"`
	Method   string `json:"method"`
	Override bool   `json:"override"`
	// Token обязателен для qr-отметки не от персонала.
	Token    string `json:"token"`
}

// CheckIn godoc
// @Summary Отметить прибытие участника
// @Tags attendance
// @Description Метод staff доступен только персоналу; без user_id отмечается сам пользователь.
// @Description Участник может отметить только себя и только методом qr с подписанным token.
// @Accept json
// @Produce json
// @Param eventID path int true "Event ID"
// @Success 201 {object} map[string]interface{} "Новая отметка"
// @Success 200 {object} map[string]interface{} "Отметка уже существовала"
// @Failure 403 {object} map[string]string "Нет прав"
// @Failure 409 {object} map[string]string "Отметка ещё не открыта"
// @Security BearerAuth
// @Router /events/{eventID}/checkins [post]
func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input checkInRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.UserID == 0 {
		input.UserID = identity.UserID
	}
	method := models.CheckInMethod(input.Method)
	if method == "" {
		method = models.CheckInQR
		if identity.IsStaff() && input.UserID != identity.UserID {
			method = models.CheckInStaff
		}
	}
	if method == models.CheckInStaff && !identity.IsStaff() {
		forbiddenResponse(w, r, "staff privileges required for staff check-in")
		return
	}
	if !identity.IsStaff() {
		if input.UserID != identity.UserID {
			forbiddenResponse(w, r, "staff privileges required to check in another user")
			return
		}
		if method == models.CheckInQR {
			if input.Token == "" {
				badRequestResponse(w, r, errors.New("token is required for qr check-in"))
				return
			}
			result, err := h.attendance.CheckInWithQR(r.Context(), eventID, input.Token, identity.UserID)
			if err != nil {
				mapServiceErrorToHTTP(w, r, err)
				return
			}
			writeCheckIn(w, r, result)
			return
		}
	}

	result, err := h.attendance.CheckIn(r.Context(), services.CheckInInput{
		EventID:  eventID,
		UserID:   input.UserID,
		Method:   method,
		ActorID:  identity.UserID,
		Override: input.Override,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeCheckIn(w, r, result)
}

func (h *AttendanceHandler) CheckInWithQR(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Token string `json:"token"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Token == "" {
		badRequestResponse(w, r, errors.New("token is required"))
		return
	}

	result, err := h.attendance.CheckInWithQR(r.Context(), eventID, input.Token, identity.UserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeCheckIn(w, r, result)
}

func (h *AttendanceHandler) GetQRToken(w http.ResponseWriter, r *http.Request) {
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	token, err := h.attendance.QRToken(r.Context(), eventID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"event_id": eventID, "token": token}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *AttendanceHandler) ListCheckIns(w http.ResponseWriter, r *http.Request) {
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	list, err := h.attendance.ListCheckIns(r.Context(), eventID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"checkins": list}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func writeCheckIn(w http.ResponseWriter, r *http.Request, result *services.CheckInResult) {
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	if err := writeJSON(w, status, jsonResponse{"result": result}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
