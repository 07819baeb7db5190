package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Key builders. Every cache key belongs to a prefix family so write paths
// can enumerate exactly the keys an entity change could have touched.
const (
	profileKeyPrefix = "profile:"
	searchKeyPrefix  = "search:"
	invitationPrefix = "invitations:"
	authTokenPrefix  = "auth:token:"
)

// ProfileKey is the cache key for one profile record.
func ProfileKey(id string) string {
	return profileKeyPrefix + id
}

// ProfileListKey is the cache key for the full profile listing.
func ProfileListKey() string {
	return "profiles:all"
}

// SearchKey derives a stable key from the query signature. Tags are sorted
// so tag order does not split the entry, but values keep their exact case:
// the index matches case-sensitively, so "CS" and "cs" are different
// queries with different answers.
func SearchKey(major, year string, tags []string) string {
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)
	signature := fmt.Sprintf("major=%s|year=%s|tags=%s", major, year, strings.Join(sorted, ","))
	hash := sha256.Sum256([]byte(signature))
	return fmt.Sprintf("%s%x", searchKeyPrefix, hash[:16])
}

// SearchPattern matches every search-result key.
func SearchPattern() string {
	return searchKeyPrefix + "*"
}

// IncomingInvitationsKey is the cache key for a user's incoming invitations.
func IncomingInvitationsKey(userID string) string {
	return invitationPrefix + "incoming:" + userID
}

// OutgoingInvitationsKey is the cache key for a user's outgoing invitations.
func OutgoingInvitationsKey(userID string) string {
	return invitationPrefix + "outgoing:" + userID
}

// AuthTokenKey hashes the bearer token so the raw credential never appears
// as a cache key.
func AuthTokenKey(token string) string {
	hash := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s%x", authTokenPrefix, hash)
}
