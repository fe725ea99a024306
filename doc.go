// Package authgate implements the credential and session lifecycle for
// email+password authentication: OTP-gated email verification, login,
// stateless access-token issuance, and rotating, revocable refresh-token
// sessions backed by Redis.
//
// The engine composes a caller-supplied CredentialStore and
// NotificationSender with the otp, session, token, and password
// subpackages. All multi-step store mutations are atomic: OTP issuance
// folds its cooldown check into the write, and refresh rotation revokes the
// predecessor and creates the successor in a single conditional step, so a
// rotation race has exactly one winner.
//
// Build an engine with the fluent builder:
//
//	engine, err := authgate.New().
//		WithRedis(rdb).
//		WithCredentialStore(store).
//		WithNotificationSender(mailer).
//		Build()
package authgate
