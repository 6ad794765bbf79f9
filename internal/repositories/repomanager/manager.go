// Package repomanager vends the typed DuoDeck repositories bound to a
// document store handle, so that services can rebind them to a transaction.
package repomanager

import (
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/repositories/cards"
	"github.com/dmitrijs2005/duodeck/internal/repositories/draws"
	"github.com/dmitrijs2005/duodeck/internal/repositories/identities"
	"github.com/dmitrijs2005/duodeck/internal/repositories/invites"
	"github.com/dmitrijs2005/duodeck/internal/repositories/pairs"
)

type RepositoryManager interface {
	Identities(store docstore.Store) identities.Repository
	Invites(store docstore.Store) invites.Repository
	Pairs(store docstore.Store) pairs.Repository
	Cards(store docstore.Store) cards.Repository
	Draws(store docstore.Store) draws.Repository
}

// DocumentRepositoryManager vends document-store backed repositories.
type DocumentRepositoryManager struct{}

func (m *DocumentRepositoryManager) Identities(store docstore.Store) identities.Repository {
	return identities.NewDocumentRepository(store)
}

func (m *DocumentRepositoryManager) Invites(store docstore.Store) invites.Repository {
	return invites.NewDocumentRepository(store)
}

func (m *DocumentRepositoryManager) Pairs(store docstore.Store) pairs.Repository {
	return pairs.NewDocumentRepository(store)
}

func (m *DocumentRepositoryManager) Cards(store docstore.Store) cards.Repository {
	return cards.NewDocumentRepository(store)
}

func (m *DocumentRepositoryManager) Draws(store docstore.Store) draws.Repository {
	return draws.NewDocumentRepository(store)
}

func NewDocumentRepositoryManager() RepositoryManager {
	return &DocumentRepositoryManager{}
}
