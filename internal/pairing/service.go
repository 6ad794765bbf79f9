// Package pairing implements the invite-code handshake that binds two
// identities into a Pair, and the breakup that dissolves it.
//
// Acceptance writes several documents (the Pair, both identities, the invite).
// When the store implements docstore.Transactor they are written in one
// transaction; otherwise they are written in a fixed order and every step is
// idempotent, so a retried AcceptInvite converges a partially applied one.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/blobstore"
	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/repositories/repomanager"
)

const (
	// DefaultInviteTTL is how long an invite code stays valid.
	DefaultInviteTTL = 7 * 24 * time.Hour
	// CodeLength is the number of characters in an invite code.
	CodeLength = 6
	// CodeAlphabet leaves out characters that are easy to misread.
	CodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

	codeAttempts = 5
)

// ErrCodeSpaceExhausted is returned when no unused code was found.
var ErrCodeSpaceExhausted = errors.New("could not allocate a unique invite code")

// SecretEvicter drops a cached shared secret.
type SecretEvicter interface {
	Evict(pairID string)
}

// AcceptResult is what the accepter needs to derive the shared secret.
type AcceptResult struct {
	PairID           string
	PartnerPublicKey string
}

// Service runs the pairing protocol against a document store.
type Service struct {
	store       docstore.Store
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	secrets     SecretEvicter
	log         logging.Logger

	now       func() time.Time
	newCode   func() (string, error)
	inviteTTL time.Duration
}

// NewService wires the protocol. blobs and secrets may be nil when the caller
// has no voice blobs or secret cache to clean up.
func NewService(store docstore.Store, m repomanager.RepositoryManager, blobs blobstore.Store, secrets SecretEvicter, log logging.Logger) *Service {
	return &Service{
		store:       store,
		repomanager: m,
		blobs:       blobs,
		secrets:     secrets,
		log:         logging.OrNop(log).With("module", "pairing"),
		now:         time.Now,
		newCode:     func() (string, error) { return common.MakeRandCode(CodeLength, CodeAlphabet) },
		inviteTTL:   DefaultInviteTTL,
	}
}

// atomically runs fn in a transaction when the store supports one.
func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context, store docstore.Store) error) error {
	if tx, ok := s.store.(docstore.Transactor); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(ctx, s.store)
}

func (s *Service) identity(ctx context.Context, store docstore.Store, id string) (*models.Identity, error) {
	identity, err := s.repomanager.Identities(store).Get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrIdentityNotFound
	}
	return identity, err
}

// IssueInvite creates a single-use code for issuerID and marks the issuer
// pending. Earlier outstanding codes of the same issuer are revoked.
func (s *Service) IssueInvite(ctx context.Context, issuerID, issuerPublicKey string) (*models.InviteCode, error) {
	if issuerPublicKey == "" {
		return nil, common.ErrMissingKeys
	}

	issuer, err := s.identity(ctx, s.store, issuerID)
	if err != nil {
		return nil, err
	}
	if issuer.Paired() {
		return nil, common.ErrAlreadyPaired
	}

	code, err := s.allocateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	invite := &models.InviteCode{
		Code:            code,
		IssuerID:        issuerID,
		IssuerPublicKey: issuerPublicKey,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.inviteTTL),
	}

	err = s.atomically(ctx, func(ctx context.Context, store docstore.Store) error {
		txInvites := s.repomanager.Invites(store)
		previous, err := txInvites.ListByIssuer(ctx, issuerID)
		if err != nil {
			return err
		}
		for _, p := range previous {
			if err := txInvites.Delete(ctx, p.Code); err != nil {
				return err
			}
		}
		if err := txInvites.Create(ctx, invite); err != nil {
			return err
		}
		return s.repomanager.Identities(store).SetStatus(ctx, issuerID, models.StatusPending, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("issue invite: %w", err)
	}

	s.log.Info(ctx, "invite issued", "issuer_id", issuerID, "expires_at", invite.ExpiresAt)
	return invite, nil
}

func (s *Service) allocateCode(ctx context.Context) (string, error) {
	invites := s.repomanager.Invites(s.store)
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		taken, err := invites.Exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		s.log.Debug(ctx, "invite code collision, retrying", "attempt", i+1)
	}
	return "", ErrCodeSpaceExhausted
}

// AcceptInvite pairs accepterID with the issuer of code. Retrying after a
// partial or complete earlier attempt converges to the same Pair.
func (s *Service) AcceptInvite(ctx context.Context, code, accepterID string) (*AcceptResult, error) {
	var (
		result  *AcceptResult
		expired bool
	)
	err := s.atomically(ctx, func(ctx context.Context, store docstore.Store) error {
		invite, err := s.repomanager.Invites(store).Get(ctx, code)
		if errors.Is(err, common.ErrorNotFound) {
			result, err = s.reaccept(ctx, store, code, accepterID)
			return err
		}
		if err != nil {
			return err
		}

		if invite.Expired(s.now()) {
			expired = true
			return common.ErrCodeExpired
		}
		if invite.IssuerID == accepterID {
			return common.ErrSelfPairing
		}

		result, err = s.bind(ctx, store, invite, accepterID)
		return err
	})
	if expired {
		// expired codes are removed lazily
		if derr := s.repomanager.Invites(s.store).Delete(ctx, code); derr != nil {
			s.log.Warn(ctx, "delete expired invite failed", "error", derr)
		}
	}
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "invite accepted", "pair_id", result.PairID, "accepter_id", accepterID)
	return result, nil
}

// bind runs the acceptance saga: Pair, issuer, accepter, invite deletion.
func (s *Service) bind(ctx context.Context, store docstore.Store, invite *models.InviteCode, accepterID string) (*AcceptResult, error) {
	issuer, err := s.identity(ctx, store, invite.IssuerID)
	if err != nil {
		return nil, err
	}
	accepter, err := s.identity(ctx, store, accepterID)
	if err != nil {
		return nil, err
	}
	if accepter.PublicKey == "" {
		return nil, common.ErrMissingKeys
	}

	pairID := models.PairID(issuer.ID, accepter.ID)
	pairs := s.repomanager.Pairs(store)

	pair, err := pairs.Get(ctx, pairID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		if err := checkFree(pairID, issuer, accepter); err != nil {
			return nil, err
		}
		pair = &models.Pair{
			ID:         pairID,
			MemberAID:  issuer.ID,
			MemberBID:  accepter.ID,
			InviteCode: invite.Code,
			CreatedAt:  s.now().UTC(),
		}
		if err := pairs.Create(ctx, pair); err != nil {
			return nil, fmt.Errorf("create pair: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		if !pair.HasMember(issuer.ID) || !pair.HasMember(accepter.ID) {
			return nil, common.ErrPairMembershipMismatch
		}
		if err := checkFree(pairID, issuer, accepter); err != nil {
			return nil, err
		}
	}

	if err := s.connect(ctx, store, pairID, issuer, accepter); err != nil {
		return nil, err
	}
	invites := s.repomanager.Invites(store)
	if err := invites.Delete(ctx, invite.Code); err != nil {
		return nil, fmt.Errorf("consume invite: %w", err)
	}
	// the accepter's own outstanding codes can no longer be honoured
	outstanding, err := invites.ListByIssuer(ctx, accepter.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range outstanding {
		if err := invites.Delete(ctx, o.Code); err != nil {
			return nil, err
		}
	}

	return &AcceptResult{PairID: pairID, PartnerPublicKey: partnerKey(issuer, invite)}, nil
}

// reaccept handles a code that no longer exists because an earlier attempt
// consumed it for this accepter.
func (s *Service) reaccept(ctx context.Context, store docstore.Store, code, accepterID string) (*AcceptResult, error) {
	accepter, err := s.identity(ctx, store, accepterID)
	if err != nil || !accepter.Paired() {
		return nil, common.ErrInvalidCode
	}
	pair, err := s.repomanager.Pairs(store).Get(ctx, accepter.PairIDValue())
	if err != nil || pair.InviteCode != code || !pair.HasMember(accepterID) {
		return nil, common.ErrInvalidCode
	}

	issuer, err := s.identity(ctx, store, pair.Other(accepterID))
	if err != nil {
		return nil, err
	}
	if err := checkFree(pair.ID, issuer, accepter); err != nil {
		return nil, err
	}
	if err := s.connect(ctx, store, pair.ID, issuer, accepter); err != nil {
		return nil, err
	}
	return &AcceptResult{PairID: pair.ID, PartnerPublicKey: issuer.PublicKey}, nil
}

// connect marks both members connected unless they already are.
func (s *Service) connect(ctx context.Context, store docstore.Store, pairID string, members ...*models.Identity) error {
	identities := s.repomanager.Identities(store)
	for _, m := range members {
		if m.PairIDValue() == pairID && m.ConnectionStatus == models.StatusConnected {
			continue
		}
		pid := pairID
		if err := identities.SetStatus(ctx, m.ID, models.StatusConnected, &pid); err != nil {
			return fmt.Errorf("connect %s: %w", m.ID, err)
		}
	}
	return nil
}

func checkFree(pairID string, members ...*models.Identity) error {
	for _, m := range members {
		if m.Paired() && m.PairIDValue() != pairID {
			return common.ErrPartnerAlreadyPaired
		}
	}
	return nil
}

func partnerKey(issuer *models.Identity, invite *models.InviteCode) string {
	if issuer.PublicKey != "" {
		return issuer.PublicKey
	}
	return invite.IssuerPublicKey
}

// RevokeInvite deletes an outstanding code. Only its issuer may revoke it;
// a pending issuer returns to unpaired.
func (s *Service) RevokeInvite(ctx context.Context, code, issuerID string) error {
	err := s.atomically(ctx, func(ctx context.Context, store docstore.Store) error {
		invite, err := s.repomanager.Invites(store).Get(ctx, code)
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if invite.IssuerID != issuerID {
			return common.ErrNotInviteIssuer
		}
		if err := s.repomanager.Invites(store).Delete(ctx, code); err != nil {
			return err
		}

		issuer, err := s.identity(ctx, store, issuerID)
		if err != nil {
			return err
		}
		if issuer.ConnectionStatus == models.StatusPending && !issuer.Paired() {
			return s.repomanager.Identities(store).SetStatus(ctx, issuerID, models.StatusUnpaired, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info(ctx, "invite revoked", "issuer_id", issuerID)
	return nil
}

// Breakup dissolves pairID on behalf of identityID: both members become
// broken with no pair, the Pair is deleted, the deck and draw history are
// purged and the cached secret is evicted. A member already bound to a
// different pair is left alone. Breakup of an already dissolved pair by one of
// its former members completes any leftover cleanup.
func (s *Service) Breakup(ctx context.Context, identityID, pairID string) error {
	memberA, memberB, err := s.members(ctx, pairID)
	if err != nil {
		return err
	}
	if identityID != memberA && identityID != memberB {
		return common.ErrNotAMember
	}

	err = s.atomically(ctx, func(ctx context.Context, store docstore.Store) error {
		identities := s.repomanager.Identities(store)
		for _, id := range []string{memberA, memberB} {
			member, err := identities.Get(ctx, id)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if member.PairIDValue() != pairID {
				continue
			}
			if err := identities.SetStatus(ctx, id, models.StatusBroken, nil); err != nil {
				return fmt.Errorf("release %s: %w", id, err)
			}
		}
		return s.repomanager.Pairs(store).Delete(ctx, pairID)
	})
	if err != nil {
		return fmt.Errorf("breakup: %w", err)
	}

	if s.secrets != nil {
		s.secrets.Evict(pairID)
	}
	if err := s.purge(ctx, pairID); err != nil {
		return fmt.Errorf("breakup: purge deck: %w", err)
	}

	s.log.Info(ctx, "pair dissolved", "pair_id", pairID, "by", identityID)
	return nil
}

// members resolves the two member ids of pairID, from the Pair when it still
// exists and from the id itself otherwise.
func (s *Service) members(ctx context.Context, pairID string) (string, string, error) {
	pair, err := s.repomanager.Pairs(s.store).Get(ctx, pairID)
	if err == nil {
		return pair.MemberAID, pair.MemberBID, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return "", "", err
	}
	a, b, err := models.PairMembers(pairID)
	if err != nil {
		return "", "", common.ErrPairNotFound
	}
	return a, b, nil
}

// purge deletes the pair's cards, their voice blobs and the draw history.
func (s *Service) purge(ctx context.Context, pairID string) error {
	cards := s.repomanager.Cards(s.store)
	list, err := cards.ListByPair(ctx, pairID)
	if err != nil {
		return err
	}
	for _, c := range list {
		if c.StoragePath != "" && s.blobs != nil {
			if err := s.blobs.Delete(ctx, c.StoragePath); err != nil {
				return err
			}
		}
		if err := cards.Delete(ctx, c.ID); err != nil {
			return err
		}
	}

	draws := s.repomanager.Draws(s.store)
	history, err := draws.List(ctx, pairID)
	if err != nil {
		return err
	}
	for _, d := range history {
		if err := draws.Delete(ctx, pairID, d.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetPartner returns the public projection of selfID's partner in pairID, or
// nil when the pair or the partner does not exist.
func (s *Service) GetPartner(ctx context.Context, selfID, pairID string) (*models.PublicIdentity, error) {
	pair, err := s.repomanager.Pairs(s.store).Get(ctx, pairID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !pair.HasMember(selfID) {
		return nil, common.ErrNotAMember
	}

	partner, err := s.repomanager.Identities(s.store).Get(ctx, pair.Other(selfID))
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.PublicIdentity{ID: partner.ID, PublicKey: partner.PublicKey}, nil
}
