package authgate

import (
	"context"
	"errors"

	"github.com/davrell/authgate/session"
)

// ListSessions returns the user's active sessions, newest first. Refresh
// secrets are never part of the view.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	sessions, err := e.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, e.storeErr(err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo(s))
	}
	return infos, nil
}

// RevokeSession revokes one of the user's sessions by id. Idempotent for
// absent or already-revoked sessions; a session owned by another user is
// reported as ErrSessionNotFound, never as a permission failure.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	err := e.sessions.Revoke(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrOwnershipMismatch) {
			return ErrSessionNotFound
		}
		return e.storeErr(err)
	}

	e.emitAudit(ctx, "revoke_session", true, userID, "", "", nil, map[string]string{"session_id": sessionID})
	return nil
}
