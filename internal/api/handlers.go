package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"movt.app/backend/internal/auth"
	"movt.app/backend/internal/core"
	"movt.app/backend/internal/store"
)

// UserStore is the account persistence used by the auth endpoints.
type UserStore interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, email, name, passwordHash string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserIDBySession(ctx context.Context, token string) (int64, error)
	SetSessionID(ctx context.Context, userID int64, token *string) error
}

// IdentityBridge resolves users between local ids and external identities.
type IdentityBridge interface {
	ResolveExternalUUID(ctx context.Context, localUserID int64) (string, error)
	ResolveLocalUserID(ctx context.Context, candidate string) (int64, error)
}

type APIHandler struct {
	booking    *core.BookingService
	chat       *core.ChatService
	users      UserStore
	identities IdentityBridge
}

func NewAPIHandler(booking *core.BookingService, chat *core.ChatService, users UserStore, identities IdentityBridge) *APIHandler {
	return &APIHandler{booking: booking, chat: chat, users: users, identities: identities}
}

type contextKey string

const userIDKey contextKey = "userID"

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

// JWTAuthMiddleware resolves the caller from a bearer session token. Signed
// JWTs carry the local id; anything else is looked up as an opaque session.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeUnauthorized(w, "Authorization header is required")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			writeUnauthorized(w, "Authorization header is required")
			return
		}

		var userID int64
		if auth.LooksLikeJWT(tokenString) {
			id, err := auth.ValidateJWT(tokenString)
			if err != nil {
				writeUnauthorized(w, "Invalid token")
				return
			}
			userID = id
		} else {
			id, err := h.users.GetUserIDBySession(r.Context(), tokenString)
			if err != nil {
				log.Printf("Error in JWTAuthMiddleware looking up session: %v", err)
				writeError(w, storeFailure("failed to verify session", err))
				return
			}
			if id == 0 {
				writeUnauthorized(w, "Invalid session")
				return
			}
			userID = id
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Ping(r.Context()); err != nil {
		log.Printf("Health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	Name        string  `json:"name"`
	AvatarURL   *string `json:"avatar_url"`
	SupabaseUID *string `json:"supabase_uid"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	var missing []string
	for field, value := range map[string]string{"email": req.Email, "password": req.Password, "name": req.Name} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		writeError(w, &core.Error{Kind: core.KindMissingField, Message: "email, password and name are required", Details: map[string]any{"fields": missing}})
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, &core.Error{Kind: core.KindInvalidInput, Message: "invalid email address"})
		return
	}

	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, &core.Error{Kind: core.KindInvalidInput, Message: err.Error()})
		return
	}
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, fmt.Errorf("failed to hash password: %w", err))
		return
	}
	user, err := h.users.CreateUser(r.Context(), req.Email, req.Name, hashedPassword)
	if errors.Is(err, store.ErrConflict) {
		writeErrorResponse(w, http.StatusConflict, codeEmailTaken, "Email already registered", "an account with this email already exists", nil)
		return
	}
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Email, err)
		writeError(w, storeFailure("failed to create user", err))
		return
	}

	h.respondWithSession(w, r, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, &core.Error{Kind: core.KindMissingField, Message: "email and password are required"})
		return
	}
	if err := h.users.Ping(r.Context()); err != nil {
		writeError(w, &core.Error{Kind: core.KindUpstream, Message: "database unavailable, try again later", Err: err})
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		log.Printf("Error getting user %s: %v", req.Email, err)
		writeError(w, storeFailure("failed to load user", err))
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeUnauthorized(w, "Invalid credentials")
		return
	}

	h.respondWithSession(w, r, http.StatusOK, user)
}

// LogoutHandler revokes the caller's opaque session token. Signed tokens
// stay valid until they expire.
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if err := h.users.SetSessionID(r.Context(), userID, nil); err != nil {
		log.Printf("Error clearing session of user %d: %v", userID, err)
		writeError(w, storeFailure("failed to clear session", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondWithSession issues a token for user. The external identity is
// resolved on the way; a failure there leaves supabase_uid null.
func (h *APIHandler) respondWithSession(w http.ResponseWriter, r *http.Request, status int, user *store.User) {
	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		log.Printf("Error generating JWT for user %d: %v", user.ID, err)
		writeError(w, fmt.Errorf("failed to generate token: %w", err))
		return
	}

	resp := AuthResponse{
		Token: token,
		User:  UserResponse{ID: user.ID, Email: user.Email, Name: user.Name, AvatarURL: user.AvatarURL},
	}
	if uid, err := h.identities.ResolveExternalUUID(r.Context(), user.ID); err != nil {
		log.Printf("Could not resolve external identity for user %d: %v", user.ID, err)
	} else if uid != "" {
		resp.User.SupabaseUID = &uid
	}
	writeJSON(w, status, resp)
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected an integer, got %s", b)
	}
	*f = flexInt(v)
	return nil
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	*f = flexString(s)
	return nil
}

func pathInt(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, &core.Error{Kind: core.KindInvalidInput, Message: fmt.Sprintf("invalid id %q", value)}
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &core.Error{Kind: core.KindInvalidInput, Message: fmt.Sprintf("%s must be an integer", key)}
	}
	return v, nil
}
