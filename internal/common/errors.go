// Package common defines shared constants, helpers and the error taxonomy used
// across client and server layers of DuoDeck. Callers should use errors.Is to
// match sentinel values and KindOf to classify an error for presentation.
package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind classifies errors for presentation and retry decisions.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindCrypto      Kind = "crypto"
	KindThrottle    Kind = "throttle"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// DomainError is a classified, user-presentable error. Values are compared by
// identity, so wrap them with %w and match with errors.Is.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

func newError(kind Kind, code, msg string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: msg}
}

var (
	// Store-level errors.
	ErrorNotFound = errors.New("not found")

	// Transport errors.
	ErrUnavailable  = newError(KindUnavailable, "unavailable", "store unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Key agreement / cipher.
	ErrKeyMissing       = newError(KindValidation, "key_missing", "private key is missing on this device")
	ErrInvalidKey       = newError(KindValidation, "invalid_key", "malformed key")
	ErrDecryptionFailed = newError(KindCrypto, "decryption_failed", "cannot read this content")

	// Pairing.
	ErrMissingKeys            = newError(KindValidation, "missing_keys", "identity has no public key")
	ErrAlreadyPaired          = newError(KindConflict, "already_paired", "identity is already paired")
	ErrInvalidCode            = newError(KindNotFound, "invalid_code", "invite code is invalid")
	ErrCodeExpired            = newError(KindValidation, "code_expired", "invite code has expired")
	ErrSelfPairing            = newError(KindValidation, "self_pairing", "cannot pair with yourself")
	ErrPartnerAlreadyPaired   = newError(KindConflict, "partner_already_paired", "one of the partners is already paired with someone else")
	ErrPairMembershipMismatch = newError(KindConflict, "pair_membership_mismatch", "pair members do not match the invite")
	ErrNotAMember             = newError(KindConflict, "not_a_member", "identity is not a member of this pair")
	ErrPairNotFound           = newError(KindNotFound, "pair_not_found", "pair not found")
	ErrIdentityNotFound       = newError(KindNotFound, "identity_not_found", "identity not found")
	ErrNotInviteIssuer        = newError(KindConflict, "not_invite_issuer", "only the issuer may revoke an invite")

	// Deck.
	ErrEmptyContent     = newError(KindValidation, "empty_content", "card content is empty")
	ErrContentTooLong   = newError(KindValidation, "content_too_long", "card text is too long")
	ErrPayloadTooLarge  = newError(KindValidation, "payload_too_large", "card payload is too large")
	ErrUnknownContent   = newError(KindValidation, "unknown_content_type", "unknown card content type")
	ErrNoCardsAvailable = newError(KindNotFound, "no_cards_available", "no cards in the deck yet")
	ErrCooldownActive   = newError(KindThrottle, "cooldown_active", "cooldown is active")

	// Connection state machine.
	ErrNotLoggedIn  = newError(KindValidation, "not_logged_in", "no identity is logged in")
	ErrNotConnected = newError(KindValidation, "not_connected", "not connected to a partner")
)

// CooldownError reports how long a viewer must wait before the next draw.
// It matches ErrCooldownActive under errors.Is.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown is active, %ds remaining", e.RemainingSeconds())
}

// Is reports ErrCooldownActive as a match.
func (e *CooldownError) Is(target error) bool { return target == ErrCooldownActive }

// RemainingSeconds is the remaining wait rounded up to whole seconds.
func (e *CooldownError) RemainingSeconds() int64 { return CeilUnits(e.Remaining, time.Second) }

// RemainingMinutes is the remaining wait rounded up to whole minutes.
func (e *CooldownError) RemainingMinutes() int64 { return CeilUnits(e.Remaining, time.Minute) }

// CeilUnits divides d by unit rounding up. Non-positive durations yield 0.
func CeilUnits(d, unit time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(d) / float64(unit)))
}

// KindOf classifies err. Unclassified errors are KindInternal; store misses
// are KindNotFound.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *CooldownError
	if errors.As(err, &ce) {
		return KindThrottle
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrorNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// IsRetryable reports whether a caller may retry the failed operation.
// Only transient transport failures qualify.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
