// Package jwt mints and parses the signed tokens used by the engine. Every
// token carries the same claim shape: subject, a typ claim naming the token
// kind, expiry, issued-at, and a random jti. The kind is part of signature
// verification from the caller's point of view: parsing a token as the wrong
// kind fails exactly like a bad signature.
package jwt
