package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

// TxRepository exposes every transactional operation a command needs.
type TxRepository interface {
	stock.TxRepository
	ledger.TxRepository
	GetDocumentForUpdate(ctx context.Context, id string) (Document, error)
	InsertDocument(ctx context.Context, doc Document) error
	UpdateDocument(ctx context.Context, doc Document) error
	DeleteDocument(ctx context.Context, id string) error
	NextPostingSeq(ctx context.Context, docType DocumentType) (int64, error)
}

// RepositoryPort abstracts repository usage for Engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id string) (Document, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives command outcomes.
type MetricsPort interface {
	ObservePosting(docType, op, outcome string)
	ObserveStockRejection(docType string)
	ObserveLedgerWrite(op string)
}

// Engine applies, reverses and re-applies document effects on stock and the customer ledger.
type Engine struct {
	repo     RepositoryPort
	stock    *stock.Mutator
	ledger   *ledger.Mutator
	locks    shared.Locker
	audit    AuditPort
	metrics  MetricsPort
	logger   *slog.Logger
	validate *validator.Validate
	cfg      EngineConfig
	now      func() time.Time
}

// NewEngine builds Engine. A nil locker falls back to an in-process KeyedMutex.
func NewEngine(repo RepositoryPort, locks shared.Locker, audit AuditPort, metrics MetricsPort, logger *slog.Logger, cfg EngineConfig) *Engine {
	if locks == nil {
		locks = shared.NewKeyedMutex(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		stock:    stock.NewMutator(),
		ledger:   ledger.NewMutator(),
		locks:    locks,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		validate: newValidator(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides every timestamp source, used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.stock.WithClock(now)
	e.ledger.WithClock(now)
	return e
}

// Create persists a new document and, when it is Posted, applies its effect.
func (e *Engine) Create(ctx context.Context, doc Document) (Result, error) {
	const op = "create"
	if err := e.validateDocument(doc); err != nil {
		return e.reject(op, doc.Type, err)
	}
	if doc.Status == StatusCancelled {
		return e.reject(op, doc.Type, &shared.TransitionError{DocType: string(doc.Type), From: "new", To: string(doc.Status)})
	}
	return e.run(ctx, op, doc, lockKeys(nil, doc), func(ctx context.Context, tx TxRepository, res *Result) error {
		if _, err := tx.GetDocumentForUpdate(ctx, doc.ID); err == nil {
			return fmt.Errorf("posting: document %s: %w", doc.ID, shared.ErrDuplicateDocument)
		} else if !errors.Is(err, ErrDocumentNotFound) {
			return err
		}
		next := e.prepare(ctx, doc)
		next.Version = 1
		next.PostingSeq = 0
		next.CreatedAt = next.UpdatedAt
		if next.Status == StatusPosted {
			if err := e.apply(ctx, tx, &next, res); err != nil {
				return err
			}
		}
		if err := tx.InsertDocument(ctx, next); err != nil {
			return err
		}
		res.Document = next
		return nil
	})
}

// Update moves the stored document identified by old to next. The stored version must match
// old.Version; the stored copy, not old, is what gets reversed.
func (e *Engine) Update(ctx context.Context, old, next Document) (Result, error) {
	const op = "update"
	if err := e.validateDocument(next); err != nil {
		return e.reject(op, next.Type, err)
	}
	if old.ID != next.ID {
		return e.reject(op, next.Type, shared.NewValidationError("id", "cannot change"))
	}
	if old.Status == StatusCancelled || next.Status == StatusCancelled {
		return e.reject(op, next.Type, &shared.TransitionError{DocType: string(next.Type), From: string(old.Status), To: string(next.Status)})
	}
	keys := lockKeys(nil, old, next)
	return e.run(ctx, op, next, keys, func(ctx context.Context, tx TxRepository, res *Result) error {
		stored, err := e.loadForWrite(ctx, tx, old, keys)
		if err != nil {
			return err
		}
		if stored.Type != next.Type {
			return shared.NewValidationError("type", "cannot change")
		}
		upd := e.prepare(ctx, next)
		upd.Version = stored.Version + 1
		upd.PostingSeq = stored.PostingSeq
		upd.CreatedAt = stored.CreatedAt

		transition := &shared.TransitionError{DocType: string(stored.Type), From: string(stored.Status), To: string(upd.Status)}
		switch {
		case stored.Status == StatusDraft && upd.Status == StatusDraft:
		case stored.Status == StatusDraft && upd.Status == StatusPosted:
			if err := e.apply(ctx, tx, &upd, res); err != nil {
				return err
			}
		case stored.Status == StatusPosted && upd.Status == StatusDraft:
			if stored.Type == TypeStockAudit {
				return transition
			}
			if err := e.reverse(ctx, tx, stored, nil, res); err != nil {
				return err
			}
		case stored.Status == StatusPosted && upd.Status == StatusPosted:
			if stored.Type == TypeStockAudit {
				return transition
			}
			if err := e.repost(ctx, tx, stored, &upd, res); err != nil {
				return err
			}
		default:
			return transition
		}
		if err := tx.UpdateDocument(ctx, upd); err != nil {
			return err
		}
		res.Document = upd
		return nil
	})
}

// Delete removes the stored document, reversing its effect first when it is Posted. fallback is
// used only when a posted sale has no stored ledger entry.
func (e *Engine) Delete(ctx context.Context, doc Document, fallback *ledger.Fallback) (Result, error) {
	const op = "delete"
	if doc.ID == "" {
		return e.reject(op, doc.Type, shared.NewValidationError("id", "required"))
	}
	keys := lockKeys(fallback, doc)
	if len(doc.Lines) == 0 {
		if stored, err := e.repo.GetDocument(ctx, doc.ID); err == nil {
			keys = lockKeys(fallback, doc, stored)
		}
	}
	return e.run(ctx, op, doc, keys, func(ctx context.Context, tx TxRepository, res *Result) error {
		stored, err := e.loadForWrite(ctx, tx, doc, keys)
		if err != nil {
			return err
		}
		if stored.Status == StatusPosted {
			if err := e.reverse(ctx, tx, stored, fallback, res); err != nil {
				return err
			}
		}
		if err := tx.DeleteDocument(ctx, stored.ID); err != nil {
			return err
		}
		res.Document = stored
		return nil
	})
}

// Post moves a Draft stock audit to Posted.
func (e *Engine) Post(ctx context.Context, auditID string) (Result, error) {
	const op = "post"
	if auditID == "" {
		return e.reject(op, TypeStockAudit, shared.NewValidationError("id", "required"))
	}
	doc, err := e.repo.GetDocument(ctx, auditID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			err = &shared.NotFoundError{Entity: "document", ID: auditID}
		}
		return e.reject(op, TypeStockAudit, err)
	}
	if doc.Type != TypeStockAudit {
		return e.reject(op, doc.Type, shared.NewValidationError("type", "only stock audits are posted directly"))
	}
	if doc.Status != StatusDraft {
		return e.reject(op, doc.Type, &shared.TransitionError{DocType: string(doc.Type), From: string(doc.Status), To: string(StatusPosted)})
	}
	next := doc.Clone()
	next.Status = StatusPosted
	return e.Update(ctx, doc, next)
}

func (e *Engine) run(ctx context.Context, op string, doc Document, keys []string, fn func(context.Context, TxRepository, *Result) error) (Result, error) {
	unlock, err := e.locks.Acquire(ctx, keys...)
	if err != nil {
		return e.reject(op, doc.Type, err)
	}
	defer unlock()

	var res Result
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res = Result{}
		return fn(ctx, tx, &res)
	})
	if err != nil {
		return e.reject(op, doc.Type, err)
	}
	res.PostingSeq = res.Document.PostingSeq
	e.observe(op, doc.Type, nil)
	e.logger.Info("posting command applied",
		slog.String("op", op),
		slog.String("doc_id", res.Document.ID),
		slog.String("doc_type", string(res.Document.Type)),
		slog.String("status", string(res.Document.Status)),
		slog.Int("applied", len(res.Applied)),
		slog.Int("skipped", len(res.Skipped)))
	e.recordAudit(ctx, op, res)
	return res, nil
}

func (e *Engine) reject(op string, docType DocumentType, err error) (Result, error) {
	e.observe(op, docType, err)
	level := slog.LevelError
	if shared.IsClientError(err) || shared.IsRetryable(err) {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "posting command failed",
		slog.String("op", op),
		slog.String("doc_type", string(docType)),
		slog.Any("error", err))
	return Result{}, err
}

func (e *Engine) observe(op string, docType DocumentType, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case shared.IsRetryable(err):
		outcome = "conflict"
	case shared.IsClientError(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	e.metrics.ObservePosting(string(docType), op, outcome)
}

// loadForWrite fetches the stored copy of ref, checks its version and checks that held covers
// every lock the stored copy needs. The caller's copy may name fewer items or no customer.
func (e *Engine) loadForWrite(ctx context.Context, tx TxRepository, ref Document, held []string) (Document, error) {
	stored, err := tx.GetDocumentForUpdate(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return Document{}, &shared.NotFoundError{Entity: "document", ID: ref.ID}
		}
		return Document{}, err
	}
	if stored.Version != ref.Version {
		return Document{}, &shared.ConcurrencyConflictError{
			Resource: "document " + ref.ID,
			Err:      fmt.Errorf("version %d does not match stored version %d", ref.Version, stored.Version),
		}
	}
	if missing := uncoveredKey(held, stored); missing != "" {
		return Document{}, &shared.ConcurrencyConflictError{
			Resource: "document " + ref.ID,
			Err:      fmt.Errorf("stored document needs lock %s", missing),
		}
	}
	return stored, nil
}

func uncoveredKey(held []string, doc Document) string {
	set := make(map[string]struct{}, len(held))
	for _, k := range held {
		set[k] = struct{}{}
	}
	for _, k := range lockKeys(nil, doc) {
		if _, ok := set[k]; !ok {
			return k
		}
	}
	return ""
}

func (e *Engine) prepare(ctx context.Context, doc Document) Document {
	next := doc.Clone()
	now := e.now()
	next.UpdatedAt = now
	if next.Date.IsZero() {
		next.Date = now
	}
	if next.ActorID == "" {
		next.ActorID = shared.ActorFromContext(ctx)
	}
	if next.Type == TypeStockAudit {
		for i := range next.Lines {
			next.Lines[i].SystemQty = decimalZero
			next.Lines[i].Diff = decimalZero
		}
	}
	return next
}

func (e *Engine) recordAudit(ctx context.Context, op string, res Result) {
	if e.audit == nil {
		return
	}
	doc := res.Document
	meta := map[string]any{
		"type":        doc.Type,
		"status":      doc.Status,
		"version":     doc.Version,
		"posting_seq": doc.PostingSeq,
		"applied":     len(res.Applied),
		"skipped":     len(res.Skipped),
	}
	if err := e.audit.Record(ctx, shared.AuditLog{ActorID: doc.ActorID, Action: "posting." + op, Entity: "posting_document", EntityID: doc.ID, Meta: meta}); err != nil {
		e.logger.Warn("record audit", slog.String("doc_id", doc.ID), slog.Any("error", err))
	}
}

func lockKeys(fallback *ledger.Fallback, docs ...Document) []string {
	var keys []string
	for _, doc := range docs {
		if doc.ID != "" {
			keys = append(keys, shared.DocumentLockKey(doc.ID))
		}
		if doc.CustomerID != "" {
			keys = append(keys, shared.CustomerLockKey(doc.CustomerID))
		}
		for _, line := range doc.Lines {
			keys = append(keys, shared.ItemLockKey(line.ItemID))
		}
	}
	if fallback != nil && fallback.CustomerID != "" {
		keys = append(keys, shared.CustomerLockKey(fallback.CustomerID))
	}
	return shared.SortedKeys(keys)
}
