package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"movt.app/backend/internal/store"
)

const appointmentListLimit = 50

// BookingStore is the persistence the booking engine depends on.
type BookingStore interface {
	ListAvailability(ctx context.Context, trainerID int64) ([]store.AvailabilityWindow, error)
	ListAvailabilityForDay(ctx context.Context, trainerID int64, dayOfWeek int) ([]store.AvailabilityWindow, error)
	CreateAvailabilityWindow(ctx context.Context, w *store.AvailabilityWindow) error
	GetAvailabilityWindow(ctx context.Context, id int64) (*store.AvailabilityWindow, error)
	DeleteAvailabilityWindow(ctx context.Context, id int64) error

	ListBookedIntervals(ctx context.Context, trainerID int64, date string) ([]store.Appointment, error)
	CreateAppointment(ctx context.Context, a *store.Appointment) error
	GetAppointment(ctx context.Context, id int64) (*store.Appointment, error)
	UpdateAppointment(ctx context.Context, id int64, status, notes *string) (*store.Appointment, error)
	DeleteAppointment(ctx context.Context, id int64) error
	ListAppointmentsForClient(ctx context.Context, clientID int64, limit int) ([]store.AppointmentListing, error)
	ListAppointmentsForTrainer(ctx context.Context, trainerID int64, limit int) ([]store.AppointmentListing, error)
	ListTrainerAppointmentsOn(ctx context.Context, trainerID int64, date string) ([]store.Appointment, error)

	CreateRating(ctx context.Context, r *store.Rating) error
	TrainerRatingAggregate(ctx context.Context, trainerID int64) (float64, int, error)
	SetTrainerRating(ctx context.Context, trainerID int64, rating float64, total int) error
}

type BookingService struct {
	store BookingStore
	tasks *Background
}

func NewBookingService(s BookingStore, tasks *Background) *BookingService {
	if tasks == nil {
		tasks = NewBackground(1)
	}
	return &BookingService{store: s, tasks: tasks}
}

// DayAvailability is the slot view of one calendar date.
type DayAvailability struct {
	Date                string `json:"date"`
	Available           bool   `json:"available"`
	Message             string `json:"message,omitempty"`
	AvailableSlots      []Slot `json:"availableSlots"`
	BookedSlots         []Slot `json:"bookedSlots"`
	CalculatedDayOfWeek int    `json:"calculatedDayOfWeek"`
}

// ListAvailability returns every active window of the trainer.
func (s *BookingService) ListAvailability(ctx context.Context, trainerID int64) ([]store.AvailabilityWindow, error) {
	if trainerID <= 0 {
		return nil, invalidInput("invalid trainer id")
	}
	windows, err := s.store.ListAvailability(ctx, trainerID)
	if err != nil {
		return nil, storeError("failed to list availability", err)
	}
	return windows, nil
}

// AvailabilityOn computes the free hourly slots of a trainer on date. A day
// without windows is reported as unavailable rather than as an error.
func (s *BookingService) AvailabilityOn(ctx context.Context, trainerID int64, date string) (*DayAvailability, error) {
	if trainerID <= 0 {
		return nil, invalidInput("invalid trainer id")
	}
	dow, err := DayOfWeek(date)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	out := &DayAvailability{Date: date, CalculatedDayOfWeek: dow, AvailableSlots: []Slot{}, BookedSlots: []Slot{}}

	windows, err := s.store.ListAvailabilityForDay(ctx, trainerID, dow)
	if err != nil {
		return nil, storeError("failed to load availability", err)
	}
	if len(windows) == 0 {
		out.Message = ErrNoAvailabilityThisDay.Message
		return out, nil
	}

	booked, err := s.store.ListBookedIntervals(ctx, trainerID, date)
	if err != nil {
		return nil, storeError("failed to load booked slots", err)
	}
	for _, b := range booked {
		out.BookedSlots = append(out.BookedSlots, Slot{StartTime: b.StartTime, EndTime: b.EndTime})
	}
	out.AvailableSlots = freeSlots(windows, booked)
	out.Available = len(out.AvailableSlots) > 0
	return out, nil
}

// WindowRequest configures a recurring availability window.
type WindowRequest struct {
	TrainerID int64
	DayOfWeek *int
	StartTime string
	EndTime   string
}

func (s *BookingService) AddAvailabilityWindow(ctx context.Context, req WindowRequest) (*store.AvailabilityWindow, error) {
	var missing []string
	if req.DayOfWeek == nil {
		missing = append(missing, "dayOfWeek")
	}
	if strings.TrimSpace(req.StartTime) == "" {
		missing = append(missing, "startTime")
	}
	if strings.TrimSpace(req.EndTime) == "" {
		missing = append(missing, "endTime")
	}
	if len(missing) > 0 {
		return nil, missingField(missing...)
	}
	if *req.DayOfWeek < 0 || *req.DayOfWeek > 6 {
		return nil, invalidInput("dayOfWeek must be between 0 and 6")
	}
	iv, err := parseInterval(req.StartTime, req.EndTime)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	if iv.start >= iv.end {
		return nil, invalidInput("startTime must be before endTime")
	}

	w := &store.AvailabilityWindow{
		TrainerID: req.TrainerID,
		DayOfWeek: *req.DayOfWeek,
		StartTime: formatClock(iv.start),
		EndTime:   formatClock(iv.end),
	}
	if err := s.store.CreateAvailabilityWindow(ctx, w); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, newError(KindSlotConflict, "window overlaps an existing availability window",
				map[string]any{"dayOfWeek": w.DayOfWeek, "startTime": w.StartTime, "endTime": w.EndTime})
		}
		return nil, storeError("failed to create availability window", err)
	}
	return w, nil
}

func (s *BookingService) RemoveAvailabilityWindow(ctx context.Context, id, requesterID int64) error {
	w, err := s.store.GetAvailabilityWindow(ctx, id)
	if err != nil {
		return storeError("failed to load availability window", err)
	}
	if w == nil {
		return newError(KindNotFound, "availability window not found", nil)
	}
	if w.TrainerID != requesterID {
		return newError(KindForbidden, "only the trainer can remove this window", nil)
	}
	if err := s.store.DeleteAvailabilityWindow(ctx, id); err != nil {
		return storeError("failed to delete availability window", err)
	}
	return nil
}

// BookingRequest asks for [StartTime, EndTime) with a trainer on Date.
type BookingRequest struct {
	TrainerID int64
	ClientID  int64
	Date      string
	StartTime string
	EndTime   string
	Notes     *string
}

// CreateAppointment validates the request against the trainer's windows for
// that weekday and books it as pending.
func (s *BookingService) CreateAppointment(ctx context.Context, req BookingRequest) (*store.Appointment, error) {
	var missing []string
	if req.TrainerID == 0 {
		missing = append(missing, "trainerId")
	}
	if strings.TrimSpace(req.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(req.StartTime) == "" {
		missing = append(missing, "startTime")
	}
	if strings.TrimSpace(req.EndTime) == "" {
		missing = append(missing, "endTime")
	}
	if len(missing) > 0 {
		return nil, missingField(missing...)
	}
	if req.TrainerID < 0 {
		return nil, invalidInput("invalid trainer id")
	}

	date := strings.TrimSpace(req.Date)
	dow, err := DayOfWeek(date)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	requested, err := parseInterval(req.StartTime, req.EndTime)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	if requested.start >= requested.end {
		return nil, invalidInput("startTime must be before endTime")
	}
	start, end := formatClock(requested.start), formatClock(requested.end)

	windows, err := s.store.ListAvailabilityForDay(ctx, req.TrainerID, dow)
	if err != nil {
		return nil, storeError("failed to load availability", err)
	}
	if len(windows) == 0 {
		return nil, newError(KindNoAvailabilityThisDay, ErrNoAvailabilityThisDay.Message,
			map[string]any{"dayOfWeek": dow, "date": date})
	}
	if !withinAnyWindow(windows, requested) {
		return nil, newError(KindOutsideAvailability, ErrOutsideAvailability.Message,
			map[string]any{"requested": start + "-" + end, "dayOfWeek": dow})
	}

	appt := &store.Appointment{
		TrainerID: req.TrainerID,
		ClientID:  req.ClientID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Notes:     req.Notes,
	}
	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, newError(KindSlotConflict, ErrSlotConflict.Message,
				map[string]any{"date": date, "startTime": start, "endTime": end})
		}
		return nil, storeError("failed to create appointment", err)
	}
	log.Printf("Appointment %d booked: trainer %d, client %d, %s %s-%s", appt.ID, appt.TrainerID, appt.ClientID, date, start, end)
	return appt, nil
}

func withinAnyWindow(windows []store.AvailabilityWindow, requested interval) bool {
	for _, w := range windows {
		wi, err := parseInterval(w.StartTime, w.EndTime)
		if err != nil {
			continue
		}
		if wi.contains(requested) {
			return true
		}
	}
	return false
}

// AppointmentPatch holds the fields of a partial update; nil means unchanged.
type AppointmentPatch struct {
	Status *string
	Notes  *string
}

func (s *BookingService) UpdateAppointment(ctx context.Context, id, requesterID int64, patch AppointmentPatch) (*store.Appointment, error) {
	var status *string
	if patch.Status != nil {
		normalized, ok := NormalizeStatus(*patch.Status)
		if !ok {
			return nil, invalidInput("unknown status %q", *patch.Status)
		}
		status = &normalized
	}
	if _, err := s.authorize(ctx, id, requesterID); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateAppointment(ctx, id, status, patch.Notes)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, newError(KindSlotConflict, ErrSlotConflict.Message, map[string]any{"appointmentId": id})
		}
		return nil, storeError("failed to update appointment", err)
	}
	if updated == nil {
		return nil, newError(KindNotFound, "appointment not found", nil)
	}
	return updated, nil
}

// CancelAppointment deletes the appointment, freeing its slot.
func (s *BookingService) CancelAppointment(ctx context.Context, id, requesterID int64) error {
	if _, err := s.authorize(ctx, id, requesterID); err != nil {
		return err
	}
	if err := s.store.DeleteAppointment(ctx, id); err != nil {
		return storeError("failed to cancel appointment", err)
	}
	return nil
}

// authorize loads the appointment and checks that requesterID is its
// trainer or client.
func (s *BookingService) authorize(ctx context.Context, id, requesterID int64) (*store.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, storeError("failed to load appointment", err)
	}
	if appt == nil {
		return nil, newError(KindNotFound, "appointment not found", nil)
	}
	if appt.TrainerID != requesterID && appt.ClientID != requesterID {
		return nil, newError(KindForbidden, "you are not a party to this appointment", nil)
	}
	return appt, nil
}

// ListAppointments returns the caller's appointments as client (default) or
// as trainer.
func (s *BookingService) ListAppointments(ctx context.Context, userID int64, role string) ([]store.AppointmentListing, error) {
	var (
		out []store.AppointmentListing
		err error
	)
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", "client", "aluno":
		out, err = s.store.ListAppointmentsForClient(ctx, userID, appointmentListLimit)
	case "trainer", "personal":
		out, err = s.store.ListAppointmentsForTrainer(ctx, userID, appointmentListLimit)
	default:
		return nil, invalidInput("unknown role %q", role)
	}
	if err != nil {
		return nil, storeError("failed to list appointments", err)
	}
	return out, nil
}

func (s *BookingService) TrainerAppointmentsOn(ctx context.Context, trainerID int64, date string) ([]store.Appointment, error) {
	if trainerID <= 0 {
		return nil, invalidInput("invalid trainer id")
	}
	if strings.TrimSpace(date) == "" {
		return nil, missingField("date")
	}
	if _, err := DayOfWeek(date); err != nil {
		return nil, invalidInput("%v", err)
	}
	out, err := s.store.ListTrainerAppointmentsOn(ctx, trainerID, strings.TrimSpace(date))
	if err != nil {
		return nil, storeError("failed to list trainer appointments", err)
	}
	return out, nil
}

// RatingRequest scores a completed appointment. TrainerID may be zero, in
// which case the appointment's trainer is rated.
type RatingRequest struct {
	AppointmentID     int64
	AuthorID          int64
	TrainerID         int64
	ProfessionalScore int
	TrainingScore     int
	Comment           string
}

// RateAppointment stores the rating and schedules the trainer's aggregate
// refresh. The refresh runs after the insert and its failure is only logged.
func (s *BookingService) RateAppointment(ctx context.Context, req RatingRequest) (*store.Rating, error) {
	var missing []string
	if req.ProfessionalScore == 0 {
		missing = append(missing, "ratingProfessional")
	}
	if req.TrainingScore == 0 {
		missing = append(missing, "ratingTraining")
	}
	if len(missing) > 0 {
		return nil, missingField(missing...)
	}
	for _, score := range []int{req.ProfessionalScore, req.TrainingScore} {
		if score < 1 || score > 5 {
			return nil, invalidInput("scores must be between 1 and 5")
		}
	}

	appt, err := s.store.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, storeError("failed to load appointment", err)
	}
	if appt == nil {
		return nil, newError(KindNotFound, "appointment not found", nil)
	}
	if !isCompleted(appt.Status) {
		return nil, newError(KindNotEligible, ErrNotEligible.Message, map[string]any{"status": appt.Status})
	}
	if appt.ClientID != req.AuthorID {
		return nil, newError(KindForbidden, "only the client of this appointment can rate it", nil)
	}

	target := req.TrainerID
	if target <= 0 {
		target = appt.TrainerID
	}
	rating := &store.Rating{
		AppointmentID:     appt.ID,
		AuthorID:          req.AuthorID,
		TargetTrainerID:   target,
		ProfessionalScore: req.ProfessionalScore,
		TrainingScore:     req.TrainingScore,
		Comment:           strings.TrimSpace(req.Comment),
	}
	if err := s.store.CreateRating(ctx, rating); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, newError(KindAlreadyRated, ErrAlreadyRated.Message, map[string]any{"appointmentId": appt.ID})
		}
		return nil, storeError("failed to save rating", err)
	}

	s.tasks.Go(fmt.Sprintf("refresh rating of trainer %d", target), func(ctx context.Context) error {
		return s.RefreshTrainerRating(ctx, target)
	})
	return rating, nil
}

// RefreshTrainerRating recomputes the trainer's average professional score,
// rounded to one decimal, and writes it to the profile cache.
func (s *BookingService) RefreshTrainerRating(ctx context.Context, trainerID int64) error {
	avg, count, err := s.store.TrainerRatingAggregate(ctx, trainerID)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	return s.store.SetTrainerRating(ctx, trainerID, math.Round(avg*10)/10, count)
}
