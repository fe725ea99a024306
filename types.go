package authgate

import (
	"context"
	"time"

	"github.com/davrell/authgate/otp"
)

// User is the account record exchanged with the CredentialStore.
// PasswordHash is never serialized; Sanitized strips it before a User
// leaves the engine.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Sanitized returns a copy safe to hand to callers.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// NewUser is the input for CredentialStore.CreateUser.
type NewUser struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
}

// CredentialStore is the external collaborator owning user identity.
// Implementations must return ErrEmailTaken on duplicate email,
// ErrUserNotFound when no user matches, and honor context cancellation.
// EmailVerified is monotonic: MarkEmailVerified never unsets it.
type CredentialStore interface {
	CreateUser(ctx context.Context, input NewUser) (User, error)
	// GetUserByEmail returns the full record including the password hash.
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	MarkEmailVerified(ctx context.Context, id string) (User, error)
}

// NotificationSender delivers codes and notices out of band. The engine
// treats both calls as fire-and-forget: failures are audited, never fatal.
type NotificationSender interface {
	SendOTP(ctx context.Context, email, code string, purpose otp.Purpose) error
	SendWelcome(ctx context.Context, email, name string) error
}

// NoOpSender discards all notifications.
type NoOpSender struct{}

func (NoOpSender) SendOTP(context.Context, string, string, otp.Purpose) error { return nil }
func (NoOpSender) SendWelcome(context.Context, string, string) error          { return nil }

// Clock is the injectable time source used for expiry and cooldown
// comparisons, enabling deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RegisterResult is returned by Engine.Register.
type RegisterResult struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// AuthResult is returned by Engine.Login and Engine.Refresh.
type AuthResult struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionInfo is the caller-facing view of one session; the refresh secret
// and its hash are never included.
type SessionInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
