package store

import "time"

// Appointment statuses as stored. Only pending and confirmed appointments
// hold a slot.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	AvatarURL    *string   `json:"avatar_url"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	SessionID    *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// IdentityMapping links a local user id to an external identity UUID.
// Degraded marks identifiers generated locally because the provider could
// not supply a real account.
type IdentityMapping struct {
	LocalUserID  int64     `json:"local_user_id"`
	ExternalUUID string    `json:"external_uuid"`
	Degraded     bool      `json:"degraded"`
	CreatedAt    time.Time `json:"created_at"`
}

type AvailabilityWindow struct {
	ID        int64  `json:"id"`
	TrainerID int64  `json:"trainerId"`
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"` // HH:MM
	EndTime   string `json:"endTime"`   // HH:MM
	Active    bool   `json:"active"`
}

type Appointment struct {
	ID        int64     `json:"id"`
	TrainerID int64     `json:"trainerId"`
	ClientID  int64     `json:"clientId"`
	Date      string    `json:"date"`      // YYYY-MM-DD
	StartTime string    `json:"startTime"` // HH:MM
	EndTime   string    `json:"endTime"`   // HH:MM
	Status    string    `json:"status"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AppointmentListing is an appointment joined with the other party's profile.
type AppointmentListing struct {
	Appointment
	CounterpartName   *string `json:"counterpartName"`
	CounterpartEmail  *string `json:"counterpartEmail"`
	CounterpartAvatar *string `json:"counterpartAvatar"`
	Rated             *bool   `json:"rated,omitempty"`
}

type Rating struct {
	ID                int64     `json:"id"`
	AppointmentID     int64     `json:"appointmentId"`
	AuthorID          int64     `json:"authorId"`
	TargetTrainerID   int64     `json:"targetTrainerId"`
	ProfessionalScore int       `json:"professionalScore"`
	TrainingScore     int       `json:"trainingScore"`
	Comment           string    `json:"comment"`
	CreatedAt         time.Time `json:"createdAt"`
}

// TrainerRating is the cached aggregate written to a trainer's profile.
type TrainerRating struct {
	TrainerID    int64     `json:"trainerId"`
	Rating       float64   `json:"rating"`
	TotalRatings int       `json:"totalRatings"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type ChatThread struct {
	ID            string     `json:"id"` // UUID
	Participant1  string     `json:"participant1_id"`
	Participant2  string     `json:"participant2_id"`
	LastMessage   *string    `json:"last_message"`
	LastTimestamp *time.Time `json:"last_timestamp"`
	UnreadCountP1 int        `json:"unread_count_p1"` // sent by participant 1, unread by participant 2
	UnreadCountP2 int        `json:"unread_count_p2"` // sent by participant 2, unread by participant 1
	LastSenderID  *string    `json:"last_sender_id"`
	CreatedAt     time.Time  `json:"created_at"`
}

// HasParticipant reports whether uuid is one of the two thread members.
func (t *ChatThread) HasParticipant(uuid string) bool {
	return uuid != "" && (t.Participant1 == uuid || t.Participant2 == uuid)
}

// UnreadFor returns the number of messages waiting for uuid.
func (t *ChatThread) UnreadFor(uuid string) int {
	if t.Participant1 == uuid {
		return t.UnreadCountP2
	}
	return t.UnreadCountP1
}

// Other returns the participant that is not uuid.
func (t *ChatThread) Other(uuid string) string {
	if t.Participant1 == uuid {
		return t.Participant2
	}
	return t.Participant1
}

type Message struct {
	ID        string    `json:"id"` // UUID
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      *string   `json:"text"` // ciphertext at rest
	ImageURL  *string   `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}
