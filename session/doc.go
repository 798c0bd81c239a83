// Package session stores the single live session record each subject may
// hold. Records live in Redis under one key per subject, so a fresh login
// silently replaces the previous session, while refresh rotation runs as a
// server-side compare-and-swap to keep concurrent refreshes from both
// succeeding.
package session
