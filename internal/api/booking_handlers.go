package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"movt.app/backend/internal/core"
)

// GetAvailabilityHandler returns the trainer's recurring windows, or the slot
// view of a single date when ?date= is given.
func (h *APIHandler) GetAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	trainerID, err := pathInt(chi.URLParam(r, "trainerID"))
	if err != nil {
		writeError(w, err)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		windows, err := h.booking.ListAvailability(r.Context(), trainerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"availability": windows})
		return
	}

	day, err := h.booking.AvailabilityOn(r.Context(), trainerID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

type AvailabilityWindowRequest struct {
	DayOfWeek *int   `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (h *APIHandler) CreateAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityWindowRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	window, err := h.booking.AddAvailabilityWindow(r.Context(), core.WindowRequest{
		TrainerID: userIDFrom(r),
		DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": window})
}

func (h *APIHandler) DeleteAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.booking.RemoveAvailabilityWindow(r.Context(), id, userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type CreateAppointmentRequest struct {
	TrainerID flexInt `json:"trainerId"`
	Date      string  `json:"date"`
	StartTime string  `json:"startTime"`
	EndTime   string  `json:"endTime"`
	Notes     *string `json:"notes"`
}

func (h *APIHandler) CreateAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	appointment, err := h.booking.CreateAppointment(r.Context(), core.BookingRequest{
		TrainerID: int64(req.TrainerID),
		ClientID:  userIDFrom(r),
		Date:      strings.TrimSpace(req.Date),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "appointment": appointment})
}

func (h *APIHandler) ListAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	listings, err := h.booking.ListAppointments(r.Context(), userIDFrom(r), r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": listings})
}

func (h *APIHandler) TrainerAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	trainerID, err := pathInt(chi.URLParam(r, "trainerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	appointments, err := h.booking.TrainerAppointmentsOn(r.Context(), trainerID, strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": appointments})
}

// UpdateAppointmentRequest accepts the notes under either "notas" or "notes".
type UpdateAppointmentRequest struct {
	Status *string `json:"status"`
	Notas  *string `json:"notas"`
	Notes  *string `json:"notes"`
}

func (h *APIHandler) UpdateAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req UpdateAppointmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	patch := core.AppointmentPatch{Status: req.Status, Notes: req.Notas}
	if patch.Notes == nil {
		patch.Notes = req.Notes
	}
	appointment, err := h.booking.UpdateAppointment(r.Context(), id, userIDFrom(r), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": appointment})
}

func (h *APIHandler) CancelAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.booking.CancelAppointment(r.Context(), id, userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type RateAppointmentRequest struct {
	RatingProfessional flexInt `json:"ratingProfessional"`
	RatingTraining     flexInt `json:"ratingTraining"`
	Comment            string  `json:"comment"`
	TrainerID          flexInt `json:"trainerId"`
}

func (h *APIHandler) RateAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req RateAppointmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	rating, err := h.booking.RateAppointment(r.Context(), core.RatingRequest{
		AppointmentID:     id,
		AuthorID:          userIDFrom(r),
		TrainerID:         int64(req.TrainerID),
		ProfessionalScore: int(req.RatingProfessional),
		TrainingScore:     int(req.RatingTraining),
		Comment:           req.Comment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Rating saved", "data": rating})
}
