// Package ident generates identifiers: record IDs, human-shareable join
// codes, share-link tokens, and deterministic derived keys.
package ident

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Generator produces unique identifiers.
// Implemented by UUIDv7 (production), RandomTokens (unguessable links), and
// Sequence (tests).
type Generator interface {
	NewID() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// NewID creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RandomTokens generates unguessable random UUIDv4 tokens, used for share
// links where time-sortability would leak information.
type RandomTokens struct{}

// NewID returns a fresh random token.
func (RandomTokens) NewID() string {
	return uuid.NewString()
}

// Sequence returns prefix-1, prefix-2, ... for deterministic tests.
//
// Thread-safety: Sequence is safe for concurrent use via internal mutex.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a Sequence that yields prefix-1 first.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

// CodeSource produces join codes.
type CodeSource interface {
	NextCode() (string, error)
}

// CodeAlphabet excludes characters that are easily confused when read aloud
// or typed (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the join code length.
const DefaultCodeLength = 6

// RandomCodes generates join codes from CodeAlphabet using crypto/rand.
type RandomCodes struct {
	Length int
}

// NextCode returns a fresh random code.
func (c RandomCodes) NextCode() (string, error) {
	n := c.Length
	if n <= 0 {
		n = DefaultCodeLength
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(CodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode canonicalizes user-entered join codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Derive computes a deterministic key for a composite identity such as
// (list, restaurant) so that concurrent inserts of the same pair collide on
// the store's primary key.
//
// Format: hex(SHA256(domain + 0x00 + NFC(part1) + 0x00 + NFC(part2) ...))[:32]
// The null byte separator prevents part boundary ambiguity.
func Derive(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(norm.NFC.String(p)))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Domains for derived keys. Version suffix enables future migration.
const (
	DomainParticipant  = "shufflesync/participant/v1"
	DomainCollaborator = "shufflesync/collaborator/v1"
	DomainListItem     = "shufflesync/list-item/v1"
)

// ParticipantID returns the participant key for (session, user).
func ParticipantID(sessionID, userID string) string {
	return Derive(DomainParticipant, sessionID, userID)
}

// CollaboratorID returns the collaborator key for (list, user).
func CollaboratorID(listID, userID string) string {
	return Derive(DomainCollaborator, listID, userID)
}

// ListItemID returns the item key for (list, restaurant).
func ListItemID(listID, restaurantID string) string {
	return Derive(DomainListItem, listID, restaurantID)
}
