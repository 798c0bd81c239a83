// Package clockauth is the authentication and session-lifecycle engine for
// the Clockwork platform. It verifies credentials, drives the optional TOTP
// second-factor challenge, mints and rotates JWT access/refresh token pairs,
// and issues one-time password-reset tokens that are consumed exactly once.
//
// The package is a library, not a service: the HTTP layer, rate limiting,
// notification transport, and durable business storage all live elsewhere
// and are reached through the narrow [CredentialStore], [Notifier], and
// [AuditSink] interfaces. All transient security state (session records,
// pending two-factor challenges, reset-token mirrors, the access-token
// revocation list, and hashed backup codes) lives in Redis with per-key
// TTLs.
//
// An [Engine] is built once through [Builder] and is safe for concurrent use
// from multiple goroutines. Operations for different subjects are fully
// independent; for a single subject the session record is last-writer-wins
// (a concurrent login and refresh may invalidate each other's refresh token,
// which is accepted), while reset-token and challenge consumption are atomic
// compare-then-delete so the same token can never be spent twice.
package clockauth
