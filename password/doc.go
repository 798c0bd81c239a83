// Package password hashes and verifies credentials with Argon2id in PHC
// string format. Hashing parameters are embedded in every hash, so verify
// always uses the parameters the hash was created with and NeedsUpgrade can
// detect hashes weaker than the current configuration.
package password
