package authgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/davrell/authgate/audit"
	"github.com/davrell/authgate/otp"
	"github.com/davrell/authgate/password"
	"github.com/davrell/authgate/session"
	"github.com/davrell/authgate/token"
)

// Engine orchestrates registration, verification, login, refresh, and
// session management flows. Engines are configured at build time and safe
// for concurrent use; each flow is an independent unit of work against the
// shared store.
type Engine struct {
	config      Config
	credentials CredentialStore
	sender      NotificationSender
	clock       Clock
	hasher      *password.Hasher
	tokens      *token.Issuer
	otp         *otp.Ledger
	sessions    *session.Store
	audit       *audit.Dispatcher
}

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// SweepExpired deletes expired OTP and session records. Optional
// maintenance: expiry is enforced inline by verify and rotate, so the sweep
// is safe to run concurrently with live traffic, or never.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e == nil || e.otp == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	otpDeleted, err := e.otp.Sweep(ctx)
	if err != nil {
		return otpDeleted, e.storeErr(err)
	}
	sessDeleted, err := e.sessions.Sweep(ctx)
	if err != nil {
		return otpDeleted + sessDeleted, e.storeErr(err)
	}
	return otpDeleted + sessDeleted, nil
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, email, ip string, failure error, metadata map[string]string) {
	event := audit.Event{
		Timestamp: e.clock.Now(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        ip,
		Success:   success,
		Metadata:  metadata,
	}
	if failure != nil {
		event.Error = failure.Error()
	}
	e.audit.Emit(ctx, event)
}

// storeErr maps infrastructure failures to the transient class without
// leaking backend detail; context and domain errors pass through.
func (e *Engine) storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		UserID:    s.UserID,
		UserAgent: s.UserAgent,
		IPAddress: s.IPAddress,
		CreatedAt: unixTime(s.CreatedAt),
		ExpiresAt: unixTime(s.ExpiresAt),
	}
}
