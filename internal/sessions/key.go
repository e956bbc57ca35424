// Package sessions tracks which specialist domain the recent turns of
// a conversation were routed to, so routing stays sticky across turns.
//
// Session keys bind an authenticated caller to the request user:
//
//	{keyHash}:{user}
//
// where keyHash is the first 8 hex characters of SHA-256 over the
// bearer token (so raw keys never appear in logs or memory dumps) and
// user is the OpenAI-style `user` field from the request body.
//
// Examples:
//
//	3f1a9c0d:alice
//	3f1a9c0d:anonymous
package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultUser is substituted when a request carries no user field.
const DefaultUser = "anonymous"

// BuildKey derives the sticky-session key for an authenticated bearer
// token and request user. An empty user maps to DefaultUser.
func BuildKey(bearerToken, user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		user = DefaultUser
	}
	sum := sha256.Sum256([]byte(bearerToken))
	return hex.EncodeToString(sum[:])[:8] + ":" + user
}

// UserFromKey extracts the user portion of a session key. Returns
// DefaultUser if the key is not in the expected format.
func UserFromKey(key string) string {
	_, user, ok := strings.Cut(key, ":")
	if !ok || user == "" {
		return DefaultUser
	}
	return user
}
