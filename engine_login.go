package authgate

import (
	"context"
	"errors"

	"github.com/davrell/authgate/internal"
)

// Login checks the password, opens a refresh session, and mints an access
// token. Unknown email, wrong password, and unverified email all return
// ErrInvalidCredentials; the distinction is recorded in the audit stream
// only.
func (e *Engine) Login(ctx context.Context, email, pass, userAgent, ip string) (AuthResult, error) {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return AuthResult{}, err
	}

	user, err := e.credentials.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, "login", false, "", email, ip, ErrInvalidCredentials, map[string]string{"reason": "unknown_email"})
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, e.storeErr(err)
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return AuthResult{}, e.storeErr(err)
	}
	if !ok {
		e.emitAudit(ctx, "login", false, user.ID, email, ip, ErrInvalidCredentials, map[string]string{"reason": "wrong_password"})
		return AuthResult{}, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		e.emitAudit(ctx, "login", false, user.ID, email, ip, ErrInvalidCredentials, map[string]string{"reason": "unverified_email"})
		return AuthResult{}, ErrInvalidCredentials
	}

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return AuthResult{}, err
	}

	sess, err := e.sessions.Create(ctx, user.ID, internal.HashRefreshSecret(secret), e.truncateUserAgent(userAgent), ip)
	if err != nil {
		return AuthResult{}, e.storeErr(err)
	}

	refreshToken, err := internal.EncodeRefreshToken(sess.ID, secret)
	if err != nil {
		return AuthResult{}, err
	}

	accessToken, err := e.tokens.Mint(user.ID, user.Email, user.EmailVerified)
	if err != nil {
		return AuthResult{}, err
	}

	e.emitAudit(ctx, "login", true, user.ID, email, ip, nil, map[string]string{"session_id": sess.ID})
	return AuthResult{
		User:         user.Sanitized(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
