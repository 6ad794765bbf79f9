// Package deck implements the card deck of a pair: creating encrypted cards,
// the fair random draw with reset on exhaustion, and the per-viewer cooldown.
//
// Every unread card surfaces exactly once before any card repeats. When the
// unread set is empty the whole deck is reset and the draw continues. The
// reset and the following reselection are not synchronized with a concurrent
// draw by the other partner; in the worst case one card is shown twice before
// the other partner's deck runs out.
package deck

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/duodeck/internal/blobstore"
	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/cryptox"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	// CooldownWindow is the minimum time between two draws of one viewer.
	CooldownWindow = 15 * time.Minute
	// MaxTextLength is the maximum number of code points in a text card.
	MaxTextLength = 200
	// MaxVoiceBytes bounds the encrypted audio of a voice card.
	MaxVoiceBytes = 2 << 20
)

// NewCard is the input of CreateCard. Text is used for text cards and Audio
// for voice cards.
type NewCard struct {
	PairID      string
	CreatorID   string
	ContentType models.ContentType
	Text        string
	Audio       []byte
	TemplateID  string
}

// CooldownStatus tells whether a viewer may draw now.
type CooldownStatus struct {
	Allowed   bool
	Remaining time.Duration
}

// RemainingSeconds is the wait rounded up to whole seconds.
func (c CooldownStatus) RemainingSeconds() int64 { return common.CeilUnits(c.Remaining, time.Second) }

// RemainingMinutes is the wait rounded up to whole minutes.
func (c CooldownStatus) RemainingMinutes() int64 { return common.CeilUnits(c.Remaining, time.Minute) }

// Content is a decrypted card payload.
type Content struct {
	Type  models.ContentType
	Text  string
	Audio []byte
}

// Service runs deck operations against a document store and a blob store.
type Service struct {
	store       docstore.Store
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	log         logging.Logger

	now   func() time.Time
	pick  func(n int) int
	newID func() string
}

// NewService wires the deck. blobs may be nil if voice cards are not used.
func NewService(store docstore.Store, m repomanager.RepositoryManager, blobs blobstore.Store, log logging.Logger) *Service {
	return &Service{
		store:       store,
		repomanager: m,
		blobs:       blobs,
		log:         logging.OrNop(log).With("module", "deck"),
		now:         time.Now,
		pick:        rand.IntN,
		newID:       uuid.NewString,
	}
}

// member checks that the pair exists and identityID belongs to it.
func (s *Service) member(ctx context.Context, pairID, identityID string) error {
	pair, err := s.repomanager.Pairs(s.store).Get(ctx, pairID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrPairNotFound
	}
	if err != nil {
		return err
	}
	if !pair.HasMember(identityID) {
		return common.ErrNotAMember
	}
	return nil
}

// CreateCard validates, encrypts and stores a new unread card. It is not
// idempotent and must not be retried blindly.
func (s *Service) CreateCard(ctx context.Context, in NewCard, secret []byte) (*models.Card, error) {
	var plain []byte
	switch in.ContentType {
	case models.ContentText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, common.ErrEmptyContent
		}
		if utf8.RuneCountInString(text) > MaxTextLength {
			return nil, common.ErrContentTooLong
		}
		plain = []byte(text)
	case models.ContentVoice:
		if len(in.Audio) == 0 {
			return nil, common.ErrEmptyContent
		}
		if len(in.Audio)+cryptox.Overhead > MaxVoiceBytes {
			return nil, common.ErrPayloadTooLarge
		}
		if s.blobs == nil {
			return nil, fmt.Errorf("voice cards need a blob store: %w", common.ErrUnknownContent)
		}
		plain = in.Audio
	default:
		return nil, common.ErrUnknownContent
	}

	if err := s.member(ctx, in.PairID, in.CreatorID); err != nil {
		return nil, err
	}

	sealed, err := cryptox.Encrypt(plain, secret)
	if err != nil {
		return nil, err
	}

	card := &models.Card{
		ID:           s.newID(),
		PairID:       in.PairID,
		CreatorID:    in.CreatorID,
		ContentType:  in.ContentType,
		CreatedAt:    s.now().UTC(),
		TemplateUsed: in.TemplateID,
	}
	if in.ContentType == models.ContentVoice {
		card.StoragePath = models.VoicePath(in.PairID, card.ID)
		if err := s.blobs.Put(ctx, card.StoragePath, sealed); err != nil {
			return nil, fmt.Errorf("store voice: %w", err)
		}
	} else {
		card.EncryptedContent = sealed
	}

	if err := s.repomanager.Cards(s.store).Create(ctx, card); err != nil {
		if card.StoragePath != "" {
			if derr := s.blobs.Delete(ctx, card.StoragePath); derr != nil {
				s.log.Warn(ctx, "orphaned voice blob", "path", card.StoragePath, "error", derr)
			}
		}
		return nil, fmt.Errorf("create card: %w", err)
	}

	s.log.Info(ctx, "card created", "pair_id", card.PairID, "card_id", card.ID, "type", card.ContentType)
	return card, nil
}

// DrawRandomCard picks a card uniformly among the pair's unread cards, marks
// it read and records the draw. An exhausted deck is reset first. The cooldown
// is checked again here, immediately before the deck is touched.
func (s *Service) DrawRandomCard(ctx context.Context, pairID, viewerID string) (*models.Card, error) {
	if err := s.member(ctx, pairID, viewerID); err != nil {
		return nil, err
	}

	status, err := s.CheckCooldown(ctx, pairID, viewerID)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, &common.CooldownError{Remaining: status.Remaining}
	}

	cards := s.repomanager.Cards(s.store)
	eligible, err := cards.ListUnread(ctx, pairID)
	if err != nil {
		return nil, err
	}

	if len(eligible) == 0 {
		all, err := cards.ListByPair(ctx, pairID)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, common.ErrNoCardsAvailable
		}

		s.log.Info(ctx, "deck exhausted, resetting", "pair_id", pairID, "cards", len(all))
		if err := s.ResetDeck(ctx, pairID); err != nil {
			return nil, err
		}
		eligible, err = cards.ListUnread(ctx, pairID)
		if err != nil {
			return nil, err
		}
		if len(eligible) == 0 {
			// the partner drew everything in between
			eligible = all
		}
	}

	card := eligible[s.pick(len(eligible))]
	if err := cards.SetRead(ctx, card.ID, true); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	card.IsRead = true

	draw := &models.DrawRecord{
		ID:       s.newID(),
		PairID:   pairID,
		CardID:   card.ID,
		ViewedBy: viewerID,
		DrawnAt:  s.now().UTC(),
	}
	if err := s.repomanager.Draws(s.store).Add(ctx, draw); err != nil {
		return nil, fmt.Errorf("record draw: %w", err)
	}

	s.log.Debug(ctx, "card drawn", "pair_id", pairID, "card_id", card.ID, "viewer_id", viewerID)
	return card, nil
}

// CheckCooldown reports whether userID may draw in pairID now. Drawing is
// allowed once at least CooldownWindow has passed since the viewer's latest
// draw.
func (s *Service) CheckCooldown(ctx context.Context, pairID, userID string) (CooldownStatus, error) {
	latest, err := s.repomanager.Draws(s.store).Latest(ctx, pairID, userID)
	if err != nil {
		return CooldownStatus{}, err
	}
	if latest == nil {
		return CooldownStatus{Allowed: true}, nil
	}

	elapsed := s.now().Sub(latest.DrawnAt)
	if elapsed >= CooldownWindow {
		return CooldownStatus{Allowed: true}, nil
	}
	return CooldownStatus{Remaining: CooldownWindow - elapsed}, nil
}

// ResetDeck marks every card of the pair unread, in one transaction when the
// store supports it.
func (s *Service) ResetDeck(ctx context.Context, pairID string) error {
	reset := func(ctx context.Context, store docstore.Store) error {
		cards := s.repomanager.Cards(store)
		all, err := cards.ListByPair(ctx, pairID)
		if err != nil {
			return err
		}
		for _, c := range all {
			if !c.IsRead {
				continue
			}
			if err := cards.SetRead(ctx, c.ID, false); err != nil {
				return fmt.Errorf("reset %s: %w", c.ID, err)
			}
		}
		return nil
	}

	if tx, ok := s.store.(docstore.Transactor); ok {
		return tx.WithTx(ctx, reset)
	}
	return reset(ctx, s.store)
}

// DecryptCard opens a card with the pair secret. Failures are reported as
// common.ErrDecryptionFailed and logged without content.
func (s *Service) DecryptCard(ctx context.Context, card *models.Card, secret []byte) (*Content, error) {
	switch card.ContentType {
	case models.ContentText:
		text, err := cryptox.DecryptText(card.EncryptedContent, secret)
		if err != nil {
			s.log.Warn(ctx, "card decryption failed", "card_id", card.ID, "pair_id", card.PairID)
			return nil, err
		}
		return &Content{Type: models.ContentText, Text: text}, nil

	case models.ContentVoice:
		blob, err := s.LocateVoice(ctx, card)
		if err != nil {
			return nil, err
		}
		audio, err := cryptox.Decrypt(blob, secret)
		if err != nil {
			s.log.Warn(ctx, "voice decryption failed", "card_id", card.ID, "pair_id", card.PairID)
			return nil, err
		}
		return &Content{Type: models.ContentVoice, Audio: audio}, nil
	}
	return nil, common.ErrUnknownContent
}

// LocateVoice fetches the encrypted audio of a voice card and checks that it
// is where the card says and plausibly sized. Decryption is left to the
// caller.
func (s *Service) LocateVoice(ctx context.Context, card *models.Card) ([]byte, error) {
	if card.ContentType != models.ContentVoice || s.blobs == nil {
		return nil, common.ErrUnknownContent
	}
	if card.StoragePath != models.VoicePath(card.PairID, card.ID) {
		return nil, common.ErrDecryptionFailed
	}

	blob, err := s.blobs.Get(ctx, card.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("locate voice %s: %w", card.ID, err)
	}
	switch {
	case len(blob) > MaxVoiceBytes:
		return nil, common.ErrPayloadTooLarge
	case len(blob) < cryptox.Overhead:
		return nil, common.ErrDecryptionFailed
	}
	return blob, nil
}
