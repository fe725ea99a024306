package authgate

import (
	"context"
	"errors"

	"github.com/davrell/authgate/internal"
	"github.com/davrell/authgate/session"
)

// Refresh rotates the presented refresh token: the old session is revoked,
// a successor is created, and a fresh access token is minted. A token that
// is unknown, expired, revoked, or already rotated fails with
// ErrInvalidRefreshToken; a replay (a valid secret against an already
// revoked record) is detected without mutating the record and additionally
// raises a suspicious-activity audit event.
func (e *Engine) Refresh(ctx context.Context, refreshToken, userAgent, ip string) (AuthResult, error) {
	sessionID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.emitAudit(ctx, "refresh", false, "", "", ip, ErrInvalidRefreshToken, map[string]string{"reason": "malformed_token"})
		return AuthResult{}, ErrInvalidRefreshToken
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return AuthResult{}, err
	}

	sess, err := e.sessions.Rotate(ctx, sessionID,
		internal.HashRefreshSecret(secret),
		internal.HashRefreshSecret(nextSecret),
		e.truncateUserAgent(userAgent), ip)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReplayed):
			e.emitAudit(ctx, "refresh_replay", false, "", "", ip, err, map[string]string{"session_id": sessionID})
			return AuthResult{}, ErrInvalidRefreshToken
		case errors.Is(err, session.ErrNotFound),
			errors.Is(err, session.ErrExpired),
			errors.Is(err, session.ErrCorrupt):
			e.emitAudit(ctx, "refresh", false, "", "", ip, ErrInvalidRefreshToken, map[string]string{"session_id": sessionID})
			return AuthResult{}, ErrInvalidRefreshToken
		default:
			return AuthResult{}, e.storeErr(err)
		}
	}

	user, err := e.credentials.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Account deleted out from under a live session.
			return AuthResult{}, ErrInvalidRefreshToken
		}
		return AuthResult{}, e.storeErr(err)
	}

	nextToken, err := internal.EncodeRefreshToken(sess.ID, nextSecret)
	if err != nil {
		return AuthResult{}, err
	}

	accessToken, err := e.tokens.Mint(user.ID, user.Email, user.EmailVerified)
	if err != nil {
		return AuthResult{}, err
	}

	e.emitAudit(ctx, "refresh", true, user.ID, user.Email, ip, nil, map[string]string{"session_id": sess.ID})
	return AuthResult{
		User:         user.Sanitized(),
		AccessToken:  accessToken,
		RefreshToken: nextToken,
	}, nil
}

// Logout revokes the session named by the refresh token. Idempotent: an
// unparseable, unknown, or already-revoked token is a successful logout.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	sessionID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	err = e.sessions.RevokeByToken(ctx, sessionID, internal.HashRefreshSecret(secret))
	if err != nil {
		return e.storeErr(err)
	}

	e.emitAudit(ctx, "logout", true, "", "", "", nil, map[string]string{"session_id": sessionID})
	return nil
}

// LogoutAll revokes every active session for the user and reports how many
// were revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	revoked, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, e.storeErr(err)
	}

	e.emitAudit(ctx, "logout_all", true, userID, "", "", nil, nil)
	return revoked, nil
}
