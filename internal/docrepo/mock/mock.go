// Package mock is an in-memory document repository matching queries against
// document names.
package mock

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/workforce-oss/workforce-sub002/internal/docrepo"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

const Subtype = "mock-document-repository"

// ErrSearchFailed is returned for queries when the "fail_search" variable is
// set.
var ErrSearchFailed = errors.New("mock: search failed")

type Repository struct {
	*docrepo.Base

	mu      sync.Mutex
	docs    map[string]docrepo.DocumentData
	deleted bool
}

func New(cfg objects.Config) *Repository {
	return &Repository{
		Base: docrepo.NewBase(cfg),
		docs: make(map[string]docrepo.DocumentData),
	}
}

// Search returns the names of matching documents, sorted. Distance is 0 on a
// match and 1 otherwise.
func (r *Repository) Search(_ context.Context, req docrepo.SearchRequest) (docrepo.SearchResult, error) {
	if fail, _ := r.Config().Variables["fail_search"].(bool); fail {
		return docrepo.SearchResult{}, ErrSearchFailed
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	query := strings.ToLower(req.Query)
	for id, doc := range r.docs {
		if len(req.DocumentIDs) > 0 && !slices.Contains(req.DocumentIDs, id) {
			continue
		}
		if strings.Contains(strings.ToLower(doc.Name), query) {
			names = append(names, doc.Name)
		}
	}
	if len(names) == 0 {
		return docrepo.SearchResult{Distance: 1}, nil
	}
	slices.Sort(names)
	return docrepo.SearchResult{Result: strings.Join(names, "\n")}, nil
}

func (r *Repository) IndexDocument(_ context.Context, doc docrepo.DocumentData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *Repository) DeleteDocument(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.docs[id]
	delete(r.docs, id)
	return ok, nil
}

func (r *Repository) DeleteRepository(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[string]docrepo.DocumentData)
	r.deleted = true
	return nil
}

// Indexed lists the ids of indexed documents.
func (r *Repository) Indexed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Repository) Deleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted
}
