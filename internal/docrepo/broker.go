package docrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/daemon"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	SubjectSearchRequest  = "document-repository.search.request"
	SubjectSearchResponse = "document-repository.search.response"
	SubjectDocument       = "document-repository.document"

	// DefaultSweepInterval is how often deleted repositories and documents
	// are purged.
	DefaultSweepInterval = time.Minute

	searchFailure = "Error executing search"
)

// ResponseSubject carries the search responses of one repository.
func ResponseSubject(repositoryID string) string {
	return SubjectSearchResponse + "." + repositoryID
}

type Store interface {
	FindDocument(ctx context.Context, id string) (*store.Document, error)
	FindOrCreateDocument(ctx context.Context, doc *store.Document) (*store.Document, bool, error)
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	DocumentsByStatus(ctx context.Context, status string) ([]store.Document, error)
	PurgeDocument(ctx context.Context, id string) error
	DocumentRepositoriesByStatus(ctx context.Context, status string) ([]store.DocumentRepository, error)
	CountDocuments(ctx context.Context, repositoryID string) (int64, error)
	PurgeDocumentRepository(ctx context.Context, id string) error
}

type Config struct {
	Transport bus.Transport
	Store     Store
	// SweepInterval defaults to DefaultSweepInterval. A negative interval
	// disables the sweep.
	SweepInterval  time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func (c Config) validate() error {
	var err error
	if c.Store == nil {
		err = errors.Join(err, errors.New("docrepo: store is required"))
	}
	if c.SweepInterval > 0 && c.SweepInterval < time.Second {
		err = errors.Join(err, fmt.Errorf("docrepo: sweep interval %s: %w", c.SweepInterval, daemon.ErrInvalidInterval))
	}
	if c.RequestTimeout < 0 {
		err = errors.Join(err, errors.New("docrepo: request timeout must not be negative"))
	}
	return err
}

type Broker struct {
	*objects.Base[Repository]

	store     Store
	timeout   time.Duration
	requests  bus.Subject[SearchRequest]
	responses bus.Broker[SearchResponse]
	shared    bus.Subject[SearchResponse]
	documents bus.Subject[DocumentData]
	stopSweep func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	requests, err := bus.New[SearchRequest](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("docrepo: %w", err)
	}
	responses, err := bus.New[SearchResponse](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("docrepo: %w", err)
	}
	documents, err := bus.New[DocumentData](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("docrepo: %w", err)
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Broker{
		Base:      objects.NewBase[Repository](objects.KindDocumentRepository, cfg.Logger),
		store:     cfg.Store,
		timeout:   cfg.RequestTimeout,
		requests:  requests.Subject(SubjectSearchRequest),
		responses: responses,
		shared:    responses.Subject(SubjectSearchResponse),
		documents: documents.Subject(SubjectDocument),
		ctx:       bctx,
		cancel:    cancel,
	}

	if _, err := b.requests.Subscribe(bctx, b.handleSearchRequest); err != nil {
		cancel()
		return nil, fmt.Errorf("docrepo: subscribe %s: %w", SubjectSearchRequest, err)
	}
	if _, err := b.shared.Subscribe(bctx, b.handleSearchResponse); err != nil {
		cancel()
		return nil, fmt.Errorf("docrepo: subscribe %s: %w", SubjectSearchResponse, err)
	}
	if _, err := b.documents.Subscribe(bctx, b.handleDocument); err != nil {
		cancel()
		return nil, fmt.Errorf("docrepo: subscribe %s: %w", SubjectDocument, err)
	}

	interval := cfg.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		stop, err := daemon.Every(bctx, interval, "document-sweep", b.Sweep)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("docrepo: %w", err)
		}
		b.stopSweep = stop
	}
	return b, nil
}

func (b *Broker) Register(ctx context.Context, r Repository) error {
	return b.Base.Register(ctx, r, func(_ context.Context, r Repository) ([]func(), error) {
		subject := b.responses.Subject(ResponseSubject(r.Config().ID))
		return []func(){subject.Complete}, nil
	})
}

// Search queries a repository and waits for its answer. A failed search
// still answers, with a distance of 1.
func (b *Broker) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if _, err := b.Lookup(req.RepositoryID); err != nil {
		return SearchResponse{}, fmt.Errorf("docrepo: search: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = uuidx.NewString()
	}
	if _, ok := ctx.Deadline(); !ok && b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := bus.Await(ctx, b.responses.Subject(ResponseSubject(req.RepositoryID)),
		func(r SearchResponse) bool { return r.RequestID == req.RequestID },
		func(ctx context.Context) error { return b.requests.Publish(ctx, req) },
	)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("docrepo: search %s: %w", req.RepositoryID, err)
	}
	return resp, nil
}

func (b *Broker) handleSearchRequest(_ context.Context, req SearchRequest) {
	go b.search(b.ctx, req)
}

func (b *Broker) search(ctx context.Context, req SearchRequest) {
	log := b.Logger().With(slogx.ObjectID(req.RepositoryID), slogx.RequestID(req.RequestID))
	r, ok := b.GetObject(req.RepositoryID)
	if !ok {
		log.DebugContext(ctx, "dropping search for unknown repository")
		return
	}

	resp := SearchResponse{RequestID: req.RequestID, RepositoryID: req.RepositoryID}
	result, err := r.Search(ctx, req)
	if err != nil {
		log.ErrorContext(ctx, "search failed", slogx.Error(err))
		resp.Result = searchFailure
		resp.Distance = 1.0
	} else {
		resp.Result = result.Result
		resp.Distance = result.Distance
	}
	if err := b.shared.Publish(ctx, resp); err != nil {
		log.ErrorContext(ctx, "failed to publish search response", slogx.Error(err))
	}
}

func (b *Broker) handleSearchResponse(ctx context.Context, resp SearchResponse) {
	if _, ok := b.GetObject(resp.RepositoryID); !ok {
		return
	}
	if err := b.responses.Subject(ResponseSubject(resp.RepositoryID)).Publish(ctx, resp); err != nil && !errors.Is(err, bus.ErrSubjectClosed) {
		b.Logger().WarnContext(ctx, "failed to route search response",
			slogx.ObjectID(resp.RepositoryID), slogx.Error(err))
	}
}

// PublishDocument announces an uploaded or deleted document.
func (b *Broker) PublishDocument(ctx context.Context, doc DocumentData) error {
	var err error
	if doc.ID == "" {
		err = errors.Join(err, errors.New("document id is required"))
	}
	if doc.RepositoryID == "" {
		err = errors.Join(err, errors.New("repository id is required"))
	}
	if err != nil {
		return fmt.Errorf("docrepo: publish document: %w", err)
	}
	return b.documents.Publish(ctx, doc)
}

// Subscribe delivers the document announcements of one repository.
func (b *Broker) Subscribe(ctx context.Context, repositoryID string, fn bus.Handler[DocumentData]) (bus.Subscription, error) {
	if fn == nil {
		return nil, bus.ErrHandlerRequired
	}
	if _, err := b.Lookup(repositoryID); err != nil {
		return nil, fmt.Errorf("docrepo: subscribe: %w", err)
	}
	return b.documents.Subscribe(ctx, func(ctx context.Context, doc DocumentData) {
		if doc.RepositoryID == repositoryID {
			fn(ctx, doc)
		}
	})
}

func (b *Broker) handleDocument(_ context.Context, doc DocumentData) {
	go b.syncDocument(b.ctx, doc)
}

func (b *Broker) syncDocument(ctx context.Context, doc DocumentData) {
	r, ok := b.GetObject(doc.RepositoryID)
	if !ok {
		return
	}
	log := b.Logger().With(slogx.ObjectID(doc.RepositoryID), slog.String("document_id", doc.ID))

	switch doc.Status {
	case DocumentUploaded:
		row, _, err := b.store.FindOrCreateDocument(ctx, &store.Document{
			ID:           doc.ID,
			RepositoryID: doc.RepositoryID,
			Name:         doc.Name,
			Location:     doc.Location,
			Status:       string(DocumentUploaded),
		})
		if err != nil {
			log.ErrorContext(ctx, "failed to record document", slogx.Error(err))
			return
		}
		if row != nil && row.Status == string(DocumentIndexed) {
			log.DebugContext(ctx, "document already indexed")
			return
		}
		if err := r.IndexDocument(ctx, doc); err != nil {
			log.ErrorContext(ctx, "failed to index document", slogx.Error(err))
			b.setDocumentStatus(ctx, log, doc.ID, DocumentError)
			return
		}
		b.setDocumentStatus(ctx, log, doc.ID, DocumentIndexed)
		log.DebugContext(ctx, "document indexed")

	case DocumentDeleted:
		row, err := b.store.FindDocument(ctx, doc.ID)
		if err != nil {
			log.ErrorContext(ctx, "failed to look up document", slogx.Error(err))
			return
		}
		if row == nil {
			return
		}
		b.deleteDocument(ctx, log, r, row)
	}
}

func (b *Broker) setDocumentStatus(ctx context.Context, log *slog.Logger, id string, status DocumentStatus) {
	if err := b.store.UpdateDocumentStatus(ctx, id, string(status)); err != nil {
		log.ErrorContext(ctx, "failed to update document", slogx.Error(err))
	}
}

// deleteDocument removes a document from its index, and purges the row
// once the document was flagged deleted. A row flagged deleted whose index
// entry is already gone is purged as well.
func (b *Broker) deleteDocument(ctx context.Context, log *slog.Logger, r Repository, row *store.Document) {
	deleted, err := r.DeleteDocument(ctx, row.ID)
	if err != nil {
		log.ErrorContext(ctx, "failed to delete document", slogx.Error(err))
		return
	}
	log.DebugContext(ctx, "document deleted", slog.Bool("deleted", deleted))
	if row.Status == string(DocumentDeleted) {
		if err := b.store.PurgeDocument(ctx, row.ID); err != nil {
			log.ErrorContext(ctx, "failed to purge document", slogx.Error(err))
		}
	}
}

// Sweep deletes repositories and documents flagged deleted. Deleting a
// repository drops its remaining documents with it.
func (b *Broker) Sweep(ctx context.Context) {
	log := b.Logger()

	repos, err := b.store.DocumentRepositoriesByStatus(ctx, store.StatusDeleted)
	if err != nil {
		log.ErrorContext(ctx, "failed to list deleted repositories", slogx.Error(err))
	}
	for _, repo := range repos {
		r, ok := b.GetObject(repo.ID)
		if !ok {
			continue
		}
		rlog := log.With(slogx.ObjectID(repo.ID))
		if err := r.DeleteRepository(ctx); err != nil {
			rlog.ErrorContext(ctx, "failed to delete repository", slogx.Error(err))
			continue
		}
		if n, err := b.store.CountDocuments(ctx, repo.ID); err == nil && n > 0 {
			rlog.DebugContext(ctx, "purging documents of deleted repository", slog.Int64("documents", n))
		}
		if err := b.store.PurgeDocumentRepository(ctx, repo.ID); err != nil {
			rlog.ErrorContext(ctx, "failed to purge repository", slogx.Error(err))
		}
	}

	docs, err := b.store.DocumentsByStatus(ctx, store.StatusDeleted)
	if err != nil {
		log.ErrorContext(ctx, "failed to list deleted documents", slogx.Error(err))
		return
	}
	for i := range docs {
		r, ok := b.GetObject(docs[i].RepositoryID)
		if !ok {
			continue
		}
		b.deleteDocument(ctx, log.With(slogx.ObjectID(docs[i].RepositoryID), slog.String("document_id", docs[i].ID)), r, &docs[i])
	}
}

func (b *Broker) Destroy(ctx context.Context) {
	if b.stopSweep != nil {
		b.stopSweep()
	}
	b.RemoveAll(ctx)
	b.cancel()
	b.requests.Complete()
	b.shared.Complete()
	b.documents.Complete()
}
