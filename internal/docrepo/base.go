// Package docrepo routes searches to document repositories and keeps their
// indexes in line with uploaded and deleted documents.
package docrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

// OutputKey names the tool-call argument repositories read queries from.
const OutputKey = "document-repository"

type Repository interface {
	objects.Object
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
	IndexDocument(ctx context.Context, doc DocumentData) error
	// DeleteDocument drops a document from the index. It reports whether
	// the document was known.
	DeleteDocument(ctx context.Context, documentID string) (bool, error)
	// DeleteRepository drops the whole index.
	DeleteRepository(ctx context.Context) error
}

// Base implements the bookkeeping shared by repositories.
type Base struct {
	cfg  objects.Config
	errs chan objects.ObjectError
	done chan struct{}
	once sync.Once
}

func NewBase(cfg objects.Config) *Base {
	return &Base{
		cfg:  cfg,
		errs: make(chan objects.ObjectError, 1),
		done: make(chan struct{}),
	}
}

func (b *Base) Config() objects.Config { return b.cfg }

func (b *Base) Errors() <-chan objects.ObjectError { return b.errs }

func (b *Base) CanonicalOutputKey() string { return OutputKey }

// ValidateObject accepts a non-empty query string.
func (b *Base) ValidateObject(_ context.Context, payload any) error {
	q, ok := payload.(string)
	if !ok {
		return fmt.Errorf("document repository %s: query must be a string, got %T", b.cfg.Name, payload)
	}
	if strings.TrimSpace(q) == "" {
		return errors.New("document repository " + b.cfg.Name + ": query is empty")
	}
	return nil
}

func (b *Base) ReportError(err error) {
	select {
	case b.errs <- objects.NewObjectError(b.cfg.ID, err):
	default:
	}
}

// Done is closed once the repository is destroyed.
func (b *Base) Done() <-chan struct{} { return b.done }

func (b *Base) Destroy(context.Context) error {
	b.once.Do(func() { close(b.done) })
	return nil
}
