// Package persona manages the persona bots that author fan-out posts and
// decides which personas answer a given question.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/storage"
)

// BotStore defines the storage operations the Registry needs.
// Implemented by storage.Store.
type BotStore interface {
	GetBotByHandle(ctx context.Context, handle string) (storage.Bot, error)
	CreateBot(ctx context.Context, b storage.Bot) (storage.Bot, error)
}

// Registry resolves (owner, persona) pairs to a single bot record,
// creating it on first use.
type Registry struct {
	store BotStore
	log   *logger.Logger
}

func NewRegistry(store BotStore, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{store: store, log: log.With("component", "persona_registry")}
}

// Handle is the bot handle for ownerHandle's persona.
func Handle(ownerHandle, personaKey string) string {
	return ownerHandle + "_aury_" + personaKey
}

// DisplayName is the bot name shown for a persona, e.g. "Aury Tech".
func DisplayName(personaKey string) string {
	r, size := utf8.DecodeRuneInString(personaKey)
	if r == utf8.RuneError {
		return "Aury"
	}
	return "Aury " + string(unicode.ToUpper(r)) + personaKey[size:]
}

// Resolve returns the bot for (ownerHandle, personaKey). An existing bot is
// returned unchanged. Concurrent first uses converge on one record: the
// insert that loses the unique-handle race re-reads the winner.
// Failures are *apierr.Error of kind RegistrationError.
func (r *Registry) Resolve(ctx context.Context, ownerHandle, personaKey, ownerUserID string) (storage.Bot, error) {
	if strings.TrimSpace(ownerHandle) == "" || strings.TrimSpace(personaKey) == "" {
		return storage.Bot{}, apierr.Newf(apierr.RegistrationError, "owner handle and persona key are required")
	}
	handle := Handle(ownerHandle, personaKey)

	bot, err := r.store.GetBotByHandle(ctx, handle)
	if err == nil {
		return bot, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Bot{}, apierr.New(apierr.RegistrationError, fmt.Errorf("looking up bot %s: %w", handle, err))
	}

	created, err := r.store.CreateBot(ctx, storage.Bot{
		Name:            DisplayName(personaKey),
		Handle:          handle,
		PersonaType:     personaKey,
		CreatedByUserID: ownerUserID,
		Active:          true,
	})
	if err == nil {
		r.log.Info("persona bot created", "handle", handle, "bot_id", created.ID)
		return created, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return storage.Bot{}, apierr.New(apierr.RegistrationError, fmt.Errorf("creating bot %s: %w", handle, err))
	}

	r.log.Debug("bot handle taken concurrently, re-reading", "handle", handle)
	bot, err = r.store.GetBotByHandle(ctx, handle)
	if err != nil {
		return storage.Bot{}, apierr.New(apierr.RegistrationError, fmt.Errorf("re-reading bot %s after conflict: %w", handle, err))
	}
	return bot, nil
}
