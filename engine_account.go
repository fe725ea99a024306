package authgate

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/davrell/authgate/otp"
)

// Register creates an account and issues an email verification code. The
// account starts unverified and cannot log in until VerifyEmail succeeds.
// Code delivery is best effort: a send failure does not fail registration,
// the caller can resend.
func (e *Engine) Register(ctx context.Context, email, pass, name string) (RegisterResult, error) {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return RegisterResult{}, err
	}
	if err := e.validatePassword(pass); err != nil {
		return RegisterResult{}, err
	}

	if _, err := e.credentials.GetUserByEmail(ctx, email); err == nil {
		e.emitAudit(ctx, "register", false, "", email, "", ErrEmailTaken, nil)
		return RegisterResult{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return RegisterResult{}, e.storeErr(err)
	}

	hash, err := e.hasher.Hash(pass)
	if err != nil {
		return RegisterResult{}, err
	}

	user, err := e.credentials.CreateUser(ctx, NewUser{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	})
	if err != nil {
		// Lost a race with a concurrent registration for the same email.
		if errors.Is(err, ErrEmailTaken) {
			e.emitAudit(ctx, "register", false, "", email, "", ErrEmailTaken, nil)
			return RegisterResult{}, ErrEmailTaken
		}
		return RegisterResult{}, e.storeErr(err)
	}

	code, err := e.otp.Issue(ctx, email, otp.PurposeEmailVerification, user.ID)
	if err != nil {
		return RegisterResult{}, e.storeErr(err)
	}

	message := "verification code sent"
	if err := e.sender.SendOTP(ctx, email, code, otp.PurposeEmailVerification); err != nil {
		e.emitAudit(ctx, "otp_delivery", false, user.ID, email, "", err, nil)
		message = "account created; code delivery failed, request a resend"
	}

	e.emitAudit(ctx, "register", true, user.ID, email, "", nil, nil)
	return RegisterResult{Email: email, Message: message}, nil
}

// VerifyEmail consumes a verification code and marks the account verified.
// Unknown accounts and wrong codes are indistinguishable to the caller.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (User, error) {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return User{}, err
	}

	user, err := e.credentials.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, "verify_email", false, "", email, "", ErrOTPInvalid, nil)
			return User{}, ErrOTPInvalid
		}
		return User{}, e.storeErr(err)
	}
	if user.EmailVerified {
		return User{}, ErrAlreadyVerified
	}

	ok, err := e.otp.Verify(ctx, email, code, otp.PurposeEmailVerification)
	if err != nil {
		return User{}, e.storeErr(err)
	}
	if !ok {
		e.emitAudit(ctx, "verify_email", false, user.ID, email, "", ErrOTPInvalid, nil)
		return User{}, ErrOTPInvalid
	}

	user, err = e.credentials.MarkEmailVerified(ctx, user.ID)
	if err != nil {
		return User{}, e.storeErr(err)
	}

	if err := e.sender.SendWelcome(ctx, email, user.Name); err != nil {
		e.emitAudit(ctx, "welcome_delivery", false, user.ID, email, "", err, nil)
	}

	e.emitAudit(ctx, "verify_email", true, user.ID, email, "", nil, nil)
	return user.Sanitized(), nil
}

// ResendOTP issues a fresh verification code, invalidating any outstanding
// one. Subject to the per-address cooldown; a *RateLimitError carries the
// remaining wait.
func (e *Engine) ResendOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return err
	}

	user, err := e.credentials.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.storeErr(err)
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	code, err := e.otp.Issue(ctx, email, otp.PurposeEmailVerification, user.ID)
	if err != nil {
		var cooldown *otp.CooldownError
		if errors.As(err, &cooldown) {
			e.emitAudit(ctx, "otp_resend", false, user.ID, email, "", err, nil)
			return &RateLimitError{RetryAfter: cooldown.RetryAfter}
		}
		return e.storeErr(err)
	}

	if err := e.sender.SendOTP(ctx, email, code, otp.PurposeEmailVerification); err != nil {
		e.emitAudit(ctx, "otp_delivery", false, user.ID, email, "", err, nil)
	}

	e.emitAudit(ctx, "otp_resend", true, user.ID, email, "", nil, nil)
	return nil
}
