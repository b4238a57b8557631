package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *SQLStore, email string) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, email, "hash")
	require.NoError(t, err)
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	require.NoError(t, s.Migrate(ctx))
	v, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "x.db?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", sqliteDSN("x.db"))
	assert.Equal(t, "x.db?_txlock=deferred&_busy_timeout=5000&_foreign_keys=on", sqliteDSN("x.db?_txlock=deferred"))
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "ana@example.com")
	_, err := s.CreateUser(ctx, "ana@example.com", "Ana", "hash")
	assert.ErrorIs(t, err, ErrConflict)

	byEmail, err := s.GetUserByEmail(ctx, "ANA@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)

	missing, err := s.GetUserByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	token := "opaque-session"
	require.NoError(t, s.SetSessionID(ctx, u.ID, &token))
	id, err := s.GetUserIDBySession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	id, err = s.GetUserIDBySession(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestIdentityMappingsAreUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "bia@example.com")
	other := mustUser(t, s, "caio@example.com")

	_, err := s.InsertMapping(ctx, u.ID, "4f1c7a2e-0000-4000-8000-000000000001", false)
	require.NoError(t, err)

	_, err = s.InsertMapping(ctx, u.ID, "4f1c7a2e-0000-4000-8000-000000000002", false)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.InsertMapping(ctx, other.ID, "4f1c7a2e-0000-4000-8000-000000000001", false)
	assert.ErrorIs(t, err, ErrConflict)

	m, err := s.GetMapping(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "4f1c7a2e-0000-4000-8000-000000000001", m.ExternalUUID)

	local, err := s.GetLocalIDByExternal(ctx, m.ExternalUUID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, local)

	users, err := s.GetUsersByExternalUUIDs(ctx, []string{m.ExternalUUID, "missing"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bia@example.com", users[m.ExternalUUID].Email)
}

func TestAvailabilityWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trainer := mustUser(t, s, "trainer@example.com")

	w := &AvailabilityWindow{TrainerID: trainer.ID, DayOfWeek: 5, StartTime: "09:00", EndTime: "12:00"}
	require.NoError(t, s.CreateAvailabilityWindow(ctx, w))
	assert.NotZero(t, w.ID)

	err := s.CreateAvailabilityWindow(ctx, &AvailabilityWindow{TrainerID: trainer.ID, DayOfWeek: 5, StartTime: "11:00", EndTime: "13:00"})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.CreateAvailabilityWindow(ctx, &AvailabilityWindow{TrainerID: trainer.ID, DayOfWeek: 5, StartTime: "14:00", EndTime: "16:00"}))
	require.NoError(t, s.CreateAvailabilityWindow(ctx, &AvailabilityWindow{TrainerID: trainer.ID, DayOfWeek: 1, StartTime: "07:00", EndTime: "08:00"}))

	all, err := s.ListAvailability(ctx, trainer.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].DayOfWeek)
	assert.Equal(t, "09:00", all[1].StartTime)
	assert.Equal(t, "14:00", all[2].StartTime)

	friday, err := s.ListAvailabilityForDay(ctx, trainer.ID, 5)
	require.NoError(t, err)
	assert.Len(t, friday, 2)

	require.NoError(t, s.DeleteAvailabilityWindow(ctx, w.ID))
	gone, err := s.GetAvailabilityWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCreateAppointmentRejectsOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trainer := mustUser(t, s, "trainer@example.com")
	client := mustUser(t, s, "client@example.com")

	first := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: "10:00", EndTime: "11:00"}
	require.NoError(t, s.CreateAppointment(ctx, first))
	assert.Equal(t, StatusPending, first.Status)

	overlapping := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: "10:30", EndTime: "11:30"}
	assert.ErrorIs(t, s.CreateAppointment(ctx, overlapping), ErrConflict)

	adjacent := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: "11:00", EndTime: "12:00"}
	require.NoError(t, s.CreateAppointment(ctx, adjacent))

	booked, err := s.ListBookedIntervals(ctx, trainer.ID, "2024-03-15")
	require.NoError(t, err)
	assert.Len(t, booked, 2)

	cancelled := StatusCancelled
	updated, err := s.UpdateAppointment(ctx, first.ID, &cancelled, nil)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, StatusCancelled, updated.Status)

	conflict, err := s.hasOverlap(ctx, s.db, trainer.ID, "2024-03-15", "10:00", "11:00", 0)
	require.NoError(t, err)
	assert.False(t, conflict)
	conflict, err = s.hasOverlap(ctx, s.db, trainer.ID, "2024-03-15", "11:30", "12:00", 0)
	require.NoError(t, err)
	assert.True(t, conflict)
	conflict, err = s.hasOverlap(ctx, s.db, trainer.ID, "2024-03-15", "11:30", "12:00", adjacent.ID)
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestReactivatingAppointmentChecksOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trainer := mustUser(t, s, "trainer@example.com")
	client := mustUser(t, s, "client@example.com")

	first := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: "10:00", EndTime: "11:00"}
	require.NoError(t, s.CreateAppointment(ctx, first))
	cancelled, confirmed := StatusCancelled, StatusConfirmed
	_, err := s.UpdateAppointment(ctx, first.ID, &cancelled, nil)
	require.NoError(t, err)

	second := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: "10:30", EndTime: "11:30"}
	require.NoError(t, s.CreateAppointment(ctx, second))

	updated, err := s.UpdateAppointment(ctx, first.ID, &confirmed, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Nil(t, updated)

	booked, err := s.ListBookedIntervals(ctx, trainer.ID, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, second.ID, booked[0].ID)

	// an active appointment does not collide with itself
	updated, err = s.UpdateAppointment(ctx, second.ID, &confirmed, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	missing, err := s.UpdateAppointment(ctx, 9999, &confirmed, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestActiveSlotUniqueIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trainer := mustUser(t, s, "trainer@example.com")
	client := mustUser(t, s, "client@example.com")

	// bypass the transactional check to exercise the storage backstop
	insert := "INSERT INTO appointments (trainer_id, client_id, appointment_date, start_time, end_time, status, created_at, updated_at) VALUES (?, ?, '2024-03-15', '10:00', '11:00', 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)"
	_, err := s.db.ExecContext(ctx, insert, trainer.ID, client.ID)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, insert, trainer.ID, client.ID)
	require.Error(t, err)
	assert.ErrorIs(t, wrap("insert", err), ErrConflict)
}

func TestUpdateAppointmentKeepsUnsetFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trainer := mustUser(t, s, "trainer@example.com")
	client := mustUser(t, s, "client@example.com")

	notes := "bring water"
	a := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: "10:00", EndTime: "11:00", Notes: &notes}
	require.NoError(t, s.CreateAppointment(ctx, a))

	confirmed := StatusConfirmed
	updated, err := s.UpdateAppointment(ctx, a.ID, &confirmed, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, "bring water", *updated.Notes)

	missing, err := s.UpdateAppointment(ctx, 9999, &confirmed, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAppointmentListings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trainer := mustUser(t, s, "trainer@example.com")
	client := mustUser(t, s, "client@example.com")

	a := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: "10:00", EndTime: "11:00"}
	require.NoError(t, s.CreateAppointment(ctx, a))
	b := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-16", StartTime: "10:00", EndTime: "11:00"}
	require.NoError(t, s.CreateAppointment(ctx, b))
	require.NoError(t, s.CreateRating(ctx, &Rating{AppointmentID: a.ID, AuthorID: client.ID, TargetTrainerID: trainer.ID, ProfessionalScore: 5, TrainingScore: 4}))

	forClient, err := s.ListAppointmentsForClient(ctx, client.ID, 50)
	require.NoError(t, err)
	require.Len(t, forClient, 2)
	assert.Equal(t, b.ID, forClient[0].ID)
	require.NotNil(t, forClient[0].Rated)
	assert.False(t, *forClient[0].Rated)
	assert.True(t, *forClient[1].Rated)
	require.NotNil(t, forClient[0].CounterpartEmail)
	assert.Equal(t, "trainer@example.com", *forClient[0].CounterpartEmail)

	forTrainer, err := s.ListAppointmentsForTrainer(ctx, trainer.ID, 1)
	require.NoError(t, err)
	require.Len(t, forTrainer, 1)
	assert.Nil(t, forTrainer[0].Rated)
	assert.Equal(t, "client@example.com", *forTrainer[0].CounterpartEmail)

	onDay, err := s.ListTrainerAppointmentsOn(ctx, trainer.ID, "2024-03-15")
	require.NoError(t, err)
	assert.Len(t, onDay, 1)
}

func TestRatingsAggregate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trainer := mustUser(t, s, "trainer@example.com")
	client := mustUser(t, s, "client@example.com")

	for i, score := range []int{4, 5} {
		a := &Appointment{TrainerID: trainer.ID, ClientID: client.ID, Date: "2024-03-15", StartTime: []string{"09:00", "10:00"}[i], EndTime: []string{"10:00", "11:00"}[i]}
		require.NoError(t, s.CreateAppointment(ctx, a))
		require.NoError(t, s.CreateRating(ctx, &Rating{AppointmentID: a.ID, AuthorID: client.ID, TargetTrainerID: trainer.ID, ProfessionalScore: score, TrainingScore: 3}))
		if i == 0 {
			err := s.CreateRating(ctx, &Rating{AppointmentID: a.ID, AuthorID: client.ID, TargetTrainerID: trainer.ID, ProfessionalScore: 1, TrainingScore: 1})
			assert.ErrorIs(t, err, ErrConflict)
		}
	}

	avg, count, err := s.TrainerRatingAggregate(ctx, trainer.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, avg, 1e-9)
	assert.Equal(t, 2, count)

	require.NoError(t, s.SetTrainerRating(ctx, trainer.ID, 4.5, 2))
	require.NoError(t, s.SetTrainerRating(ctx, trainer.ID, 4.7, 3))
	tr, err := s.GetTrainerRating(ctx, trainer.ID)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.InDelta(t, 4.7, tr.Rating, 1e-9)
	assert.Equal(t, 3, tr.TotalRatings)

	avg, count, err = s.TrainerRatingAggregate(ctx, client.ID)
	require.NoError(t, err)
	assert.Zero(t, avg)
	assert.Zero(t, count)
}

func TestThreadPairIsUnordered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := "11111111-1111-4111-8111-111111111111", "22222222-2222-4222-8222-222222222222"

	thread, err := s.CreateThread(ctx, b, a)
	require.NoError(t, err)

	_, err = s.CreateThread(ctx, a, b)
	assert.ErrorIs(t, err, ErrConflict)

	found, err := s.FindThreadByPair(ctx, a, b)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, thread.ID, found.ID)
	assert.Equal(t, b, found.Participant1)

	for _, who := range []string{a, b} {
		threads, err := s.ListThreadsFor(ctx, who)
		require.NoError(t, err)
		assert.Len(t, threads, 1)
	}
}

func TestMessageCountersAndMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := "11111111-1111-4111-8111-111111111111", "22222222-2222-4222-8222-222222222222"
	thread, err := s.CreateThread(ctx, a, b)
	require.NoError(t, err)

	text := "cipher"
	var last *ChatThread
	for i := 0; i < 3; i++ {
		last, err = s.AppendMessage(ctx, &Message{ChatID: thread.ID, SenderID: a, Text: &text}, "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, last.UnreadFor(b))
	assert.Equal(t, 0, last.UnreadFor(a))
	assert.Equal(t, "hello", *last.LastMessage)
	assert.Equal(t, a, *last.LastSenderID)

	require.NoError(t, s.MarkRead(ctx, thread.ID, b))
	after, err := s.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.UnreadFor(b))

	msgs, err := s.ListMessages(ctx, thread.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.True(t, m.IsRead)
	}
}

func TestDeleteMessageCollectsEmptyThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := "11111111-1111-4111-8111-111111111111", "22222222-2222-4222-8222-222222222222"
	thread, err := s.CreateThread(ctx, a, b)
	require.NoError(t, err)

	older, newer := "older", "newer"
	first := &Message{ChatID: thread.ID, SenderID: a, Text: &older}
	_, err = s.AppendMessage(ctx, first, older)
	require.NoError(t, err)
	second := &Message{ChatID: thread.ID, SenderID: b, Text: &newer}
	_, err = s.AppendMessage(ctx, second, newer)
	require.NoError(t, err)

	render := func(m *Message) string { return *m.Text }
	removal, err := s.DeleteMessage(ctx, second.ID, render)
	require.NoError(t, err)
	assert.False(t, removal.ThreadDeleted)
	require.NotNil(t, removal.Thread)
	assert.Equal(t, "older", *removal.Thread.LastMessage)
	assert.Equal(t, a, *removal.Thread.LastSenderID)

	removal, err = s.DeleteMessage(ctx, first.ID, render)
	require.NoError(t, err)
	assert.True(t, removal.ThreadDeleted)

	// already removed by a concurrent delete
	removal, err = s.DeleteMessage(ctx, first.ID, render)
	require.NoError(t, err)
	assert.Nil(t, removal)

	gone, err := s.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestIsUnavailable(t *testing.T) {
	assert.False(t, IsUnavailable(nil))
	assert.True(t, IsUnavailable(context.DeadlineExceeded))
	assert.False(t, IsUnavailable(ErrConflict))
}
