// Package models defines the DuoDeck data model shared by repositories and
// services: identities, invite codes, pairs, cards and draw records.
package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ConnectionStatus is the pairing state of an identity.
type ConnectionStatus string

const (
	StatusUnpaired  ConnectionStatus = "unpaired"
	StatusPending   ConnectionStatus = "pending"
	StatusConnected ConnectionStatus = "connected"
	StatusBroken    ConnectionStatus = "broken"
)

// Valid reports whether s is one of the known statuses.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusUnpaired, StatusPending, StatusConnected, StatusBroken:
		return true
	}
	return false
}

// ContentType is the kind of payload a card carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentVoice ContentType = "voice"
)

// Identity is a device-local user. Only the public key is stored remotely.
type Identity struct {
	ID               string
	PublicKey        string
	PairID           *string
	ConnectionStatus ConnectionStatus
	CreatedAt        time.Time
}

// Paired reports whether the identity is bound to a pair.
func (i *Identity) Paired() bool {
	return i.PairID != nil && *i.PairID != ""
}

// PairIDValue returns the pair id or "".
func (i *Identity) PairIDValue() string {
	if i.PairID == nil {
		return ""
	}
	return *i.PairID
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	c := *i
	if i.PairID != nil {
		pid := *i.PairID
		c.PairID = &pid
	}
	return &c
}

// PublicIdentity is what one partner may learn about the other.
type PublicIdentity struct {
	ID        string
	PublicKey string
}

// InviteCode is a single-use pairing code.
type InviteCode struct {
	Code            string
	IssuerID        string
	IssuerPublicKey string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the code is no longer valid at now.
func (c *InviteCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Pair binds exactly two identities. InviteCode is the code that was
// consumed to create it.
type Pair struct {
	ID         string
	MemberAID  string
	MemberBID  string
	InviteCode string
	CreatedAt  time.Time
}

// HasMember reports whether identityID belongs to the pair.
func (p *Pair) HasMember(identityID string) bool {
	return identityID != "" && (p.MemberAID == identityID || p.MemberBID == identityID)
}

// Other returns the member that is not identityID.
func (p *Pair) Other(identityID string) string {
	if p.MemberAID == identityID {
		return p.MemberBID
	}
	return p.MemberAID
}

// Card is an encrypted message in a pair's deck.
type Card struct {
	ID               string
	PairID           string
	CreatorID        string
	EncryptedContent []byte
	ContentType      ContentType
	StoragePath      string
	IsRead           bool
	CreatedAt        time.Time
	TemplateUsed     string
}

// DrawRecord logs one viewer drawing one card.
type DrawRecord struct {
	ID       string
	PairID   string
	CardID   string
	ViewedBy string
	DrawnAt  time.Time
}

const pairSeparator = "_"

var ErrMalformedPairID = errors.New("malformed pair id")

// PairID is the deterministic id of the pair formed by a and b: the two ids
// sorted and joined, so both sides compute the same value.
func PairID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, pairSeparator)
}

// PairMembers splits a pair id produced by PairID.
func PairMembers(pairID string) (string, string, error) {
	a, b, ok := strings.Cut(pairID, pairSeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, pairSeparator) {
		return "", "", ErrMalformedPairID
	}
	return a, b, nil
}

// VoicePath is the blob key of a voice card's encrypted audio.
func VoicePath(pairID, cardID string) string {
	return "voice/" + pairID + "/" + cardID
}

// DrawsCollection is the collection holding a pair's draw history.
func DrawsCollection(pairID string) string {
	return "drawHistory/" + pairID + "/draws"
}
