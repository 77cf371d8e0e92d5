package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/cheque-reconciler/internal/extraction"
	"github.com/zombor/cheque-reconciler/internal/invoice"
	"github.com/zombor/cheque-reconciler/internal/matching"
	"github.com/zombor/cheque-reconciler/internal/recognition"
)

// IDGenerator generates unique IDs for cheques, instance tags and settlements
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Recognizer runs recognition and always reports an outcome.
// *recognition.Adapter implements it.
type Recognizer interface {
	Recognize(ctx context.Context, imageData []byte, contentType string, progress recognition.ProgressFunc) recognition.Outcome
}

// cheque guards a workflow. running is closed when the latest recognition
// attempt for the workflow finishes.
type cheque struct {
	mu       sync.Mutex
	workflow *Workflow
	running  chan struct{}
}

// Service drives cheque workflows from upload to settlement
type Service struct {
	recognizer  Recognizer
	matcher     *matching.Matcher
	store       invoice.Store
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	cheques map[string]*cheque
	order   []string
}

// NewService creates a new Service with uuid IDs and the wall clock
func NewService(recognizer Recognizer, store invoice.Store, storage Storage) *Service {
	return NewServiceWithDeps(recognizer, store, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(recognizer Recognizer, store invoice.Store, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		recognizer:  recognizer,
		matcher:     matching.NewMatcher(store),
		store:       store,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		ctx:         ctx,
		cancel:      cancel,
		cheques:     make(map[string]*cheque),
	}
}

// Close cancels recognitions still in flight and waits for them to return.
// Results that arrive after Close are discarded.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) lookup(id string) (*cheque, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cheques[id]
	if !ok {
		return nil, fmt.Errorf("cheque %s: %w", id, ErrChequeNotFound)
	}
	return c, nil
}

func (s *Service) saveImage(filename string, data []byte, contentType string) (Image, error) {
	if err := recognition.CheckUpload(contentType, int64(len(data))); err != nil {
		return Image{}, err
	}
	clean := sanitizeFilename(filename)
	path, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), clean), data)
	if err != nil {
		return Image{}, fmt.Errorf("saving file: %w", err)
	}
	return Image{Filename: clean, Path: path, ContentType: contentType, Size: len(data)}, nil
}

func (s *Service) discardImage(img Image) {
	if err := s.storage.Delete(img.Path); err != nil {
		slog.Warn("Failed to delete image", "path", img.Path, "error", err)
	}
}

// Upload stores a new cheque image and starts recognising it in the
// background. The returned view is in the uploaded stage.
func (s *Service) Upload(filename string, data []byte, contentType string) (*View, error) {
	id := s.idGenerator.Generate()
	img, err := s.saveImage(filename, data, contentType)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	c := &cheque{workflow: NewWorkflow(id, "", now)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.workflow.Upload(img, s.idGenerator.Generate(), now); err != nil {
		s.discardImage(img)
		return nil, err
	}

	s.mu.Lock()
	s.cheques[id] = c
	s.order = append(s.order, id)
	s.mu.Unlock()

	slog.Info("Cheque uploaded", "id", id, "filename", img.Filename, "content_type", contentType, "size", len(data))
	s.launch(c, data)
	return newView(c.workflow), nil
}

// Replace uploads a new image for an existing cheque, abandoning whatever
// the previous image produced.
func (s *Service) Replace(id, filename string, data []byte, contentType string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	img, err := s.saveImage(filename, data, contentType)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	previous, hadImage := imageOf(c.workflow.State())
	if err := c.workflow.Upload(img, s.idGenerator.Generate(), s.timeSource.Now()); err != nil {
		s.discardImage(img)
		return nil, err
	}
	if hadImage {
		s.discardImage(previous)
	}

	slog.Info("Cheque image replaced", "id", id, "filename", img.Filename)
	s.launch(c, data)
	return newView(c.workflow), nil
}

// Retry recognises the current image again after a failure
func (s *Service) Retry(id string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if up, ok := c.workflow.State().(Uploaded); !ok || up.Failure == "" {
		return nil, c.workflow.invalid("retry")
	}
	img, _ := imageOf(c.workflow.State())
	data, err := s.storage.Get(img.Path)
	if err != nil {
		return nil, fmt.Errorf("getting cheque image: %w", err)
	}
	if _, err := c.workflow.Retry(s.idGenerator.Generate(), s.timeSource.Now()); err != nil {
		return nil, err
	}

	slog.Info("Retrying recognition", "id", id)
	s.launch(c, data)
	return newView(c.workflow), nil
}

// launch starts recognition for the workflow's current tag. Callers hold c.mu.
func (s *Service) launch(c *cheque, data []byte) {
	tag := c.workflow.Tag()
	up := c.workflow.State().(Uploaded)
	done := make(chan struct{})
	c.running = done
	s.wg.Add(1)
	go s.recognize(c, tag, up.Image.ContentType, data, done)
}

func (s *Service) recognize(c *cheque, tag, contentType string, data []byte, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	id := c.workflow.ID
	outcome := s.recognizer.Recognize(s.ctx, data, contentType, func(p recognition.Progress) {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = c.workflow.Progress(tag, p)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.workflow.Tag() != tag {
		slog.Info("Discarding stale recognition result", "id", id)
		return
	}
	if s.ctx.Err() != nil {
		slog.Info("Discarding recognition result after shutdown", "id", id)
		return
	}

	now := s.timeSource.Now()
	if !outcome.Success {
		slog.Error("Failed to recognize cheque", "id", id, "engine", outcome.Engine, "error", outcome.Error)
		_ = c.workflow.Fail(tag, outcome.Error, now)
		return
	}

	fields := extraction.Extract(outcome.Result.Text)
	decision, err := s.matcher.Match(fields)
	if err != nil {
		slog.Error("Failed to match cheque", "id", id, "error", err)
		_ = c.workflow.Fail(tag, fmt.Sprintf("matching: %v", err), now)
		return
	}

	if err := c.workflow.Extract(tag, outcome, fields, now); err != nil {
		slog.Info("Discarding stale recognition result", "id", id)
		return
	}
	if err := c.workflow.Match(decision, now); err != nil {
		slog.Error("Failed to record match", "id", id, "error", err)
		return
	}
	slog.Info("Cheque matched", "id", id, "match_type", decision.MatchType, "confidence", decision.Confidence)
}

// SelectInvoice replaces the current decision with a manual match. Invalid
// selections are rejected before the workflow changes.
func (s *Service) SelectInvoice(id, invoiceID string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.workflow.matched("match")
	if err != nil {
		return nil, err
	}
	decision, err := s.matcher.SelectInvoice(m.Fields, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := c.workflow.Decide(decision, s.timeSource.Now()); err != nil {
		return nil, err
	}
	return newView(c.workflow), nil
}

// Reject records that none of the candidate invoices is correct
func (s *Service) Reject(id string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.workflow.matched("reject")
	if err != nil {
		return nil, err
	}
	if err := c.workflow.Decide(s.matcher.ApplyReject(m.Fields), s.timeSource.Now()); err != nil {
		return nil, err
	}
	return newView(c.workflow), nil
}

// Complete settles the current decision. A successful decision marks its
// invoice paid; any other decision is recorded for review. The settlement is
// written before the workflow moves, so a failed write leaves it matched.
func (s *Service) Complete(id, notes string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.workflow.matched("complete")
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	settlement := &invoice.Settlement{
		ID:           s.idGenerator.Generate(),
		ChequeID:     id,
		ChequeNumber: m.Fields.ChequeNumber,
		PayerName:    m.Fields.PayerName,
		Amount:       m.Fields.Amount,
		MatchType:    string(m.Decision.MatchType),
		Confidence:   m.Decision.Confidence,
		Status:       invoice.SettlementNeedsReview,
		Notes:        notes,
		CompletedAt:  now,
	}
	if m.Decision.Success && m.Decision.MatchedInvoice != nil {
		settlement.InvoiceID = m.Decision.MatchedInvoice.ID
		settlement.Status = invoice.SettlementReconciled
	}

	if err := s.store.Settle(settlement); err != nil {
		return nil, fmt.Errorf("settling cheque: %w", err)
	}
	if err := c.workflow.Complete(notes, settlement.ID, now); err != nil {
		return nil, err
	}

	slog.Info("Cheque completed", "id", id, "invoice_id", settlement.InvoiceID, "status", settlement.Status)
	return newView(c.workflow), nil
}

// Reset abandons the cheque's current instance and deletes its image
func (s *Service) Reset(id string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.workflow.Reset(s.idGenerator.Generate(), s.timeSource.Now()); ok {
		s.discardImage(img)
	}
	slog.Info("Cheque reset", "id", id)
	return newView(c.workflow), nil
}

// Get returns a snapshot of one cheque
func (s *Service) Get(id string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return newView(c.workflow), nil
}

// List returns snapshots of all cheques in upload order
func (s *Service) List() []*View {
	s.mu.RLock()
	cheques := make([]*cheque, 0, len(s.order))
	for _, id := range s.order {
		cheques = append(cheques, s.cheques[id])
	}
	s.mu.RUnlock()

	views := make([]*View, 0, len(cheques))
	for _, c := range cheques {
		c.mu.Lock()
		views = append(views, newView(c.workflow))
		c.mu.Unlock()
	}
	return views
}

// ImageFile returns the current image of a cheque
func (s *Service) ImageFile(id string) ([]byte, string, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, "", err
	}
	c.mu.Lock()
	img, ok := imageOf(c.workflow.State())
	c.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("cheque %s: %w", id, ErrNoImage)
	}

	data, err := s.storage.Get(img.Path)
	if err != nil {
		return nil, "", fmt.Errorf("getting cheque image: %w", err)
	}
	return data, img.ContentType, nil
}

// Wait blocks until the cheque's latest recognition attempt has finished
func (s *Service) Wait(ctx context.Context, id string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	if running != nil {
		select {
		case <-running:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Get(id)
}

// Analysis is the result of extracting and matching text recognised
// elsewhere
type Analysis struct {
	Fields   extraction.Fields  `json:"fields"`
	Decision *matching.Decision `json:"decision"`
}

// Analyze extracts fields from text and matches them without creating a
// workflow
func (s *Service) Analyze(text string) (*Analysis, error) {
	fields := extraction.Extract(text)
	decision, err := s.matcher.Match(fields)
	if err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}
	return &Analysis{Fields: fields, Decision: decision}, nil
}

// ListInvoices returns all invoices in collection order
func (s *Service) ListInvoices() ([]*invoice.Invoice, error) {
	invoices, err := s.store.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return invoices, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(id string) (*invoice.Invoice, error) {
	inv, err := s.store.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return inv, nil
}

// ListSettlements returns all settlements in the order they were written
func (s *Service) ListSettlements() ([]*invoice.Settlement, error) {
	settlements, err := s.store.ListSettlements()
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}
	return settlements, nil
}

func isClientError(err error) bool {
	return errors.Is(err, recognition.ErrEmptyImage) ||
		errors.Is(err, recognition.ErrUnsupportedType) ||
		errors.Is(err, recognition.ErrImageTooLarge)
}
