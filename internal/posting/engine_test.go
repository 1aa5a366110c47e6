package posting_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/posting"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	postings   map[string]int
	rejections int
	writes     map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{postings: map[string]int{}, writes: map[string]int{}}
}

func (m *recordingMetrics) ObservePosting(docType, op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings[docType+"/"+op+"/"+outcome]++
}

func (m *recordingMetrics) ObserveStockRejection(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections++
}

func (m *recordingMetrics) ObserveLedgerWrite(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[op]++
}

type fixture struct {
	store   *memory.Store
	engine  *posting.Engine
	audit   *recordingAudit
	metrics *recordingMetrics
}

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, cfg posting.EngineConfig) *fixture {
	t.Helper()
	store := memory.New()
	store.AddItem("I1", "Rice 5kg")
	store.AddItem("I2", "Cooking oil 1L")
	store.SeedSlot("I1", "L1", decimal.NewFromInt(100))
	store.AddCustomer("C1", decimal.Zero)
	store.AddCustomer("C2", decimal.NewFromInt(250))

	audit := &recordingAudit{}
	metrics := newRecordingMetrics()
	engine := posting.NewEngine(store, shared.NewKeyedMutex(time.Second), audit, metrics, nil, cfg).
		WithClock(func() time.Time { return baseTime })
	return &fixture{store: store, engine: engine, audit: audit, metrics: metrics}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func requireDec(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, got.Equal(dec(want)), "want %d, got %s", want, got)
}

func line(item string, qty int64) posting.Line {
	return posting.Line{ItemID: item, Quantity: dec(qty)}
}

func doc(id string, typ posting.DocumentType, status posting.Status, lines ...posting.Line) posting.Document {
	return posting.Document{ID: id, Type: typ, Status: status, LocationID: "L1", Date: baseTime, Lines: lines}
}

func creditSale(id string, qty, total int64) posting.Document {
	d := doc(id, posting.TypeSale, posting.StatusPosted, line("I1", qty))
	d.CustomerID = "C1"
	d.NetTotal = dec(total)
	d.PayMode = posting.PayCredit
	return d
}

func TestScenarioAPurchaseReturnReducesStock(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	res, err := f.engine.Create(ctx, doc("PR-1", posting.TypePurchaseReturn, posting.StatusPosted, line("I1", 10)))
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	requireDec(t, 90, f.store.Slot("I1", "L1").Qty)

	moves := f.store.Movements()
	require.Len(t, moves, 1)
	require.Equal(t, stock.DirectionOut, moves[0].Direction)
	requireDec(t, 10, moves[0].Qty)
	requireDec(t, 100, moves[0].PrevQty)
	requireDec(t, 90, moves[0].NewQty)
	require.Equal(t, stock.RefPurchaseReturn, moves[0].RefType)
	require.Equal(t, "PR-1", moves[0].RefID)
}

func TestScenarioBSaleRejectedWhenStockInsufficient(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()
	f.store.SeedSlot("I1", "L1", dec(90))

	_, err := f.engine.Create(ctx, creditSale("S-1", 95, 9500))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var stockErr *shared.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	requireDec(t, 90, stockErr.Available)
	requireDec(t, 95, stockErr.Requested)

	requireDec(t, 90, f.store.Slot("I1", "L1").Qty)
	require.Empty(t, f.store.Movements())
	require.Empty(t, f.store.Entries())
	requireDec(t, 0, f.store.Customer("C1").Balance)
	require.Equal(t, 1, f.metrics.rejections)
	require.Equal(t, 1, f.metrics.postings["sale/create/rejected"])

	_, err = f.store.GetDocument(ctx, "S-1")
	require.ErrorIs(t, err, posting.ErrDocumentNotFound)
}

func TestScenarioCAndDSaleOnCreditThenDelete(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()
	f.store.SeedSlot("I1", "L1", dec(90))

	res, err := f.engine.Create(ctx, creditSale("S-1", 50, 5000))
	require.NoError(t, err)
	requireDec(t, 40, f.store.Slot("I1", "L1").Qty)
	require.NotNil(t, res.Entry)
	requireDec(t, 5000, res.Entry.Debit)
	requireDec(t, 0, res.Entry.Credit)
	requireDec(t, 5000, f.store.Customer("C1").Balance)

	entries := f.store.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "S-1", entries[0].RefID)
	require.Equal(t, ledger.RefSale, entries[0].RefType)

	del, err := f.engine.Delete(ctx, posting.Document{ID: "S-1", Version: res.Document.Version}, nil)
	require.NoError(t, err)
	require.NotNil(t, del.Removal)
	require.True(t, del.Removal.Removed)
	requireDec(t, 90, f.store.Slot("I1", "L1").Qty)
	require.Empty(t, f.store.Entries())
	requireDec(t, 0, f.store.Customer("C1").Balance)

	_, err = f.store.GetDocument(ctx, "S-1")
	require.ErrorIs(t, err, posting.ErrDocumentNotFound)
}

func TestScenarioEStockAuditPostAndDelete(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()
	f.store.SeedSlot("I1", "L1", dec(90))

	audit := doc("AU-1", posting.TypeStockAudit, posting.StatusPosted, posting.Line{ItemID: "I1", PhysicalQty: dec(80)})
	res, err := f.engine.Create(ctx, audit)
	require.NoError(t, err)
	requireDec(t, 80, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 90, res.Document.Lines[0].SystemQty)
	requireDec(t, -10, res.Document.Lines[0].Diff)

	moves := f.store.Movements()
	require.Len(t, moves, 1)
	require.Equal(t, stock.DirectionAudit, moves[0].Direction)
	requireDec(t, -10, moves[0].Qty)

	_, err = f.engine.Delete(ctx, posting.Document{ID: "AU-1", Version: res.Document.Version}, nil)
	require.NoError(t, err)
	requireDec(t, 90, f.store.Slot("I1", "L1").Qty)
	require.Len(t, f.store.Movements(), 2)
}

func TestDeleteAuditAfterLaterSaleRestoresOnlyItsDiff(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()
	f.store.SeedSlot("I1", "L1", dec(90))

	audit, err := f.engine.Create(ctx, doc("AU-1", posting.TypeStockAudit, posting.StatusPosted, posting.Line{ItemID: "I1", PhysicalQty: dec(80)}))
	require.NoError(t, err)
	requireDec(t, 80, f.store.Slot("I1", "L1").Qty)

	_, err = f.engine.Create(ctx, creditSale("S-1", 30, 3000))
	require.NoError(t, err)
	requireDec(t, 50, f.store.Slot("I1", "L1").Qty)

	_, err = f.engine.Delete(ctx, posting.Document{ID: "AU-1", Version: audit.Document.Version}, nil)
	require.NoError(t, err)
	requireDec(t, 60, f.store.Slot("I1", "L1").Qty)

	net := map[string]decimal.Decimal{}
	for _, m := range f.store.Movements() {
		net[m.RefID] = net[m.RefID].Add(m.Delta())
	}
	requireDec(t, 0, net["AU-1"])
	requireDec(t, -30, net["S-1"])
}

func TestStockAuditDraftThenPost(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	draft := doc("AU-2", posting.TypeStockAudit, posting.StatusDraft,
		posting.Line{ItemID: "I1", PhysicalQty: dec(120)},
		posting.Line{ItemID: "I2", PhysicalQty: dec(7)},
	)
	_, err := f.engine.Create(ctx, draft)
	require.NoError(t, err)
	require.Empty(t, f.store.Movements())

	res, err := f.engine.Post(ctx, "AU-2")
	require.NoError(t, err)
	require.Equal(t, posting.StatusPosted, res.Document.Status)
	require.EqualValues(t, 1, res.PostingSeq)
	requireDec(t, 120, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 7, f.store.Slot("I2", "L1").Qty)
	requireDec(t, 20, res.Document.Lines[0].Diff)
	requireDec(t, 7, res.Document.Lines[1].Diff)

	_, err = f.engine.Post(ctx, "AU-2")
	require.ErrorIs(t, err, shared.ErrUnsupportedTransition)

	stored, err := f.store.GetDocument(ctx, "AU-2")
	require.NoError(t, err)
	back := stored.Clone()
	back.Status = posting.StatusDraft
	_, err = f.engine.Update(ctx, stored, back)
	require.ErrorIs(t, err, shared.ErrUnsupportedTransition)

	edited := stored.Clone()
	edited.Lines[0].PhysicalQty = dec(110)
	_, err = f.engine.Update(ctx, stored, edited)
	require.ErrorIs(t, err, shared.ErrUnsupportedTransition)
	requireDec(t, 120, f.store.Slot("I1", "L1").Qty)
}

func TestPostRejectsNonAuditDocuments(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	_, err := f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusDraft, line("I1", 1)))
	require.NoError(t, err)
	_, err = f.engine.Post(ctx, "P-1")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.engine.Post(ctx, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPostUnpostRoundTripRestoresState(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	res, err := f.engine.Create(ctx, creditSale("S-1", 30, 3000))
	require.NoError(t, err)
	requireDec(t, 70, f.store.Slot("I1", "L1").Qty)

	draft := res.Document.Clone()
	draft.Status = posting.StatusDraft
	unposted, err := f.engine.Update(ctx, res.Document, draft)
	require.NoError(t, err)
	require.Equal(t, posting.StatusDraft, unposted.Document.Status)
	require.EqualValues(t, 2, unposted.Document.Version)
	requireDec(t, 100, f.store.Slot("I1", "L1").Qty)
	require.Empty(t, f.store.Entries())
	requireDec(t, 0, f.store.Customer("C1").Balance)

	repost := unposted.Document.Clone()
	repost.Status = posting.StatusPosted
	reposted, err := f.engine.Update(ctx, unposted.Document, repost)
	require.NoError(t, err)
	require.Equal(t, res.Document.PostingSeq, reposted.Document.PostingSeq)
	requireDec(t, 70, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 3000, f.store.Customer("C1").Balance)
	require.Len(t, f.store.Entries(), 1)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	_, err := f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusPosted, line("I1", 5)))
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusPosted, line("I1", 5)))
	require.ErrorIs(t, err, shared.ErrDuplicateDocument)

	requireDec(t, 105, f.store.Slot("I1", "L1").Qty)
	require.Len(t, f.store.Movements(), 1)
}

func TestPostedEditWritesNetDeltaPerSlot(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	res, err := f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusPosted, line("I1", 10), line("I2", 4)))
	require.NoError(t, err)
	require.Len(t, f.store.Movements(), 2)

	next := res.Document.Clone()
	next.Lines[0].Quantity = dec(15)
	edited, err := f.engine.Update(ctx, res.Document, next)
	require.NoError(t, err)
	require.Len(t, edited.Applied, 1)
	requireDec(t, 5, edited.Applied[0].Diff)
	requireDec(t, 115, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 4, f.store.Slot("I2", "L1").Qty)

	moves := f.store.Movements()
	require.Len(t, moves, 3)
	require.Equal(t, stock.DirectionIn, moves[2].Direction)
	requireDec(t, 5, moves[2].Qty)
}

func TestPostedSaleEditCountsOldOutflowAsAvailable(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()
	f.store.SeedSlot("I1", "L1", dec(90))

	res, err := f.engine.Create(ctx, creditSale("S-1", 50, 5000))
	require.NoError(t, err)
	requireDec(t, 40, f.store.Slot("I1", "L1").Qty)

	grow := res.Document.Clone()
	grow.Lines[0].Quantity = dec(80)
	grow.NetTotal = dec(8000)
	grown, err := f.engine.Update(ctx, res.Document, grow)
	require.NoError(t, err)
	requireDec(t, 10, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 8000, f.store.Customer("C1").Balance)
	require.Len(t, f.store.Entries(), 1)
	requireDec(t, 8000, f.store.Entries()[0].Debit)

	tooMuch := grown.Document.Clone()
	tooMuch.Lines[0].Quantity = dec(100)
	_, err = f.engine.Update(ctx, grown.Document, tooMuch)
	var stockErr *shared.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	requireDec(t, 90, stockErr.Available)
	requireDec(t, 100, stockErr.Requested)
	requireDec(t, 10, f.store.Slot("I1", "L1").Qty)
}

func TestSaleMovedToAnotherCustomer(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	res, err := f.engine.Create(ctx, creditSale("S-1", 5, 500))
	require.NoError(t, err)

	moved := res.Document.Clone()
	moved.CustomerID = "C2"
	_, err = f.engine.Update(ctx, res.Document, moved)
	require.NoError(t, err)
	requireDec(t, 0, f.store.Customer("C1").Balance)
	requireDec(t, 750, f.store.Customer("C2").Balance)
	requireDec(t, 95, f.store.Slot("I1", "L1").Qty)
	require.Len(t, f.store.Movements(), 1)
}

func TestSalePayModesAndReturns(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	cash := creditSale("S-CASH", 2, 200)
	cash.PayMode = posting.PayCash
	cash.PaidAmount = dec(200)
	res, err := f.engine.Create(ctx, cash)
	require.NoError(t, err)
	requireDec(t, 200, res.Entry.Debit)
	requireDec(t, 200, res.Entry.Credit)
	requireDec(t, 0, f.store.Customer("C1").Balance)

	ret := doc("SR-1", posting.TypeSaleReturn, posting.StatusPosted, line("I1", 1))
	ret.CustomerID = "C1"
	ret.NetTotal = dec(100)
	res, err = f.engine.Create(ctx, ret)
	require.NoError(t, err)
	requireDec(t, 0, res.Entry.Debit)
	requireDec(t, 100, res.Entry.Credit)
	requireDec(t, -100, f.store.Customer("C1").Balance)
	requireDec(t, 99, f.store.Slot("I1", "L1").Qty)

	walkIn := doc("S-WALK", posting.TypeSale, posting.StatusPosted, line("I1", 1))
	walkIn.NetTotal = dec(100)
	res, err = f.engine.Create(ctx, walkIn)
	require.NoError(t, err)
	require.Nil(t, res.Entry)
	require.Len(t, f.store.Entries(), 2)
}

func TestDeleteFallsBackWhenEntryMissing(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	walkIn := doc("S-1", posting.TypeSale, posting.StatusPosted, line("I1", 3))
	walkIn.NetTotal = dec(300)
	res, err := f.engine.Create(ctx, walkIn)
	require.NoError(t, err)

	del, err := f.engine.Delete(ctx, posting.Document{ID: "S-1", Version: res.Document.Version},
		&ledger.Fallback{CustomerID: "C2", Debit: dec(300), Credit: dec(100)})
	require.NoError(t, err)
	require.True(t, del.Removal.FallbackApplied)
	requireDec(t, 50, f.store.Customer("C2").Balance)
	requireDec(t, 100, f.store.Slot("I1", "L1").Qty)
	require.Equal(t, 1, f.metrics.writes["fallback"])
}

func TestCancelledTransitionsAreUnsupported(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	_, err := f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusCancelled, line("I1", 1)))
	require.ErrorIs(t, err, shared.ErrUnsupportedTransition)

	res, err := f.engine.Create(ctx, doc("P-2", posting.TypePurchase, posting.StatusPosted, line("I1", 1)))
	require.NoError(t, err)
	cancelled := res.Document.Clone()
	cancelled.Status = posting.StatusCancelled
	_, err = f.engine.Update(ctx, res.Document, cancelled)
	require.ErrorIs(t, err, shared.ErrUnsupportedTransition)
	requireDec(t, 101, f.store.Slot("I1", "L1").Qty)
}

func TestUpdateRejectsStaleVersionAndTypeChange(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	res, err := f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusDraft, line("I1", 1)))
	require.NoError(t, err)

	stale := res.Document.Clone()
	stale.Version = 7
	_, err = f.engine.Update(ctx, stale, res.Document)
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.True(t, shared.IsRetryable(err))

	retyped := res.Document.Clone()
	retyped.Type = posting.TypePurchaseReturn
	_, err = f.engine.Update(ctx, res.Document, retyped)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.engine.Delete(ctx, posting.Document{ID: "P-1", Version: 3}, nil)
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	_, err = f.engine.Delete(ctx, posting.Document{ID: "nope", Version: 1}, nil)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateRejectsCallerCopyMissingStoredLocks(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	res, err := f.engine.Create(ctx, creditSale("S-1", 10, 1000))
	require.NoError(t, err)

	partial := posting.Document{ID: "S-1", Type: posting.TypeSale, Status: posting.StatusPosted, Version: res.Document.Version}
	next := res.Document.Clone()
	next.Lines = []posting.Line{line("I2", 1)}
	f.store.SeedSlot("I2", "L1", dec(5))

	_, err = f.engine.Update(ctx, partial, next)
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.True(t, shared.IsRetryable(err))
	requireDec(t, 90, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 5, f.store.Slot("I2", "L1").Qty)
	requireDec(t, 1000, f.store.Customer("C1").Balance)

	_, err = f.engine.Delete(ctx, posting.Document{ID: "S-1", Version: res.Document.Version, Lines: []posting.Line{line("I2", 1)}}, nil)
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	requireDec(t, 90, f.store.Slot("I1", "L1").Qty)

	edited, err := f.engine.Update(ctx, res.Document, next)
	require.NoError(t, err)
	requireDec(t, 100, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 4, f.store.Slot("I2", "L1").Qty)
	require.Equal(t, res.Document.Version+1, edited.Document.Version)
}

func TestValidationRejectsMalformedDocuments(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	cases := map[string]posting.Document{
		"missing id":        doc("", posting.TypePurchase, posting.StatusPosted, line("I1", 1)),
		"unknown type":      doc("X-1", posting.DocumentType("transfer"), posting.StatusPosted, line("I1", 1)),
		"zero quantity":     doc("X-2", posting.TypePurchase, posting.StatusPosted, line("I1", 0)),
		"negative physical": doc("X-3", posting.TypeStockAudit, posting.StatusPosted, posting.Line{ItemID: "I1", PhysicalQty: dec(-1)}),
		"missing location": {
			ID: "X-4", Type: posting.TypePurchase, Status: posting.StatusPosted, Lines: []posting.Line{line("I1", 1)},
		},
		"customer on audit": func() posting.Document {
			d := doc("X-5", posting.TypeStockAudit, posting.StatusDraft, posting.Line{ItemID: "I1", PhysicalQty: dec(1)})
			d.CustomerID = "C1"
			return d
		}(),
		"negative total": func() posting.Document {
			d := creditSale("X-6", 1, 1)
			d.NetTotal = dec(-5)
			return d
		}(),
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, d)
			require.ErrorIs(t, err, shared.ErrValidation)
			var verr *shared.ValidationError
			require.True(t, errors.As(err, &verr))
			require.NotEmpty(t, verr.Fields)
		})
	}
	require.Empty(t, f.store.Movements())
}

func TestMissingItemFailsOrSkips(t *testing.T) {
	ctx := context.Background()

	strict := newFixture(t, posting.EngineConfig{})
	_, err := strict.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusPosted, line("I1", 2), line("GONE", 1)))
	require.ErrorIs(t, err, shared.ErrNotFound)
	requireDec(t, 100, strict.store.Slot("I1", "L1").Qty)
	require.Empty(t, strict.store.Movements())

	lenient := newFixture(t, posting.EngineConfig{SkipMissingItems: true})
	res, err := lenient.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusPosted, line("I1", 2), line("GONE", 1)))
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, "GONE", res.Skipped[0].ItemID)
	requireDec(t, 102, lenient.store.Slot("I1", "L1").Qty)
}

func TestFailureRollsBackEveryWrite(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()
	f.store.FailNext("InsertEntry", errors.New("disk full"))

	_, err := f.engine.Create(ctx, creditSale("S-1", 10, 1000))
	require.Error(t, err)
	require.Equal(t, 1, f.metrics.postings["sale/create/error"])

	requireDec(t, 100, f.store.Slot("I1", "L1").Qty)
	require.Empty(t, f.store.Movements())
	require.Empty(t, f.store.Entries())
	requireDec(t, 0, f.store.Customer("C1").Balance)
	_, err = f.store.GetDocument(ctx, "S-1")
	require.ErrorIs(t, err, posting.ErrDocumentNotFound)
}

func TestPostingSequencePerType(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	first, err := f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusPosted, line("I1", 1)))
	require.NoError(t, err)
	second, err := f.engine.Create(ctx, doc("P-2", posting.TypePurchase, posting.StatusPosted, line("I1", 1)))
	require.NoError(t, err)
	sale, err := f.engine.Create(ctx, creditSale("S-1", 1, 10))
	require.NoError(t, err)
	draft, err := f.engine.Create(ctx, doc("P-3", posting.TypePurchase, posting.StatusDraft, line("I1", 1)))
	require.NoError(t, err)

	require.EqualValues(t, 1, first.PostingSeq)
	require.EqualValues(t, 2, second.PostingSeq)
	require.EqualValues(t, 1, sale.PostingSeq)
	require.Zero(t, draft.PostingSeq)
}

func TestCommandsAreAudited(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := shared.ContextWithActor(context.Background(), "clerk-7")

	res, err := f.engine.Create(ctx, doc("P-1", posting.TypePurchase, posting.StatusPosted, line("I1", 1)))
	require.NoError(t, err)
	require.Equal(t, "clerk-7", res.Document.ActorID)
	require.Equal(t, "clerk-7", f.store.Movements()[0].ActorID)

	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "posting.create", f.audit.logs[0].Action)
	require.Equal(t, "P-1", f.audit.logs[0].EntityID)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, short int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Create(ctx, creditSale(fmt.Sprintf("S-%02d", i), 10, 100))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, shared.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	require.Equal(t, 10, short)
	requireDec(t, 0, f.store.Slot("I1", "L1").Qty)
	requireDec(t, 1000, f.store.Customer("C1").Balance)
	require.Len(t, f.store.Entries(), 10)
}

func TestQueriesReadThroughServices(t *testing.T) {
	f := newFixture(t, posting.EngineConfig{})
	ctx := context.Background()
	_, err := f.engine.Create(ctx, creditSale("S-1", 4, 400))
	require.NoError(t, err)

	q := posting.NewQueries(stock.NewService(f.store, nil), ledger.NewService(f.store, nil, nil))

	qty, err := q.GetItemQuantity(ctx, "I1", "L1")
	require.NoError(t, err)
	requireDec(t, 96, qty)

	moves, err := q.GetMovementLog(ctx, "I1", shared.DateRange{})
	require.NoError(t, err)
	require.Len(t, moves, 1)

	balance, err := q.GetCustomerBalance(ctx, "C1")
	require.NoError(t, err)
	requireDec(t, 400, balance)

	stmt, err := q.GetLedger(ctx, "C1", shared.DateRange{From: baseTime.Add(-time.Hour), To: baseTime.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, stmt.Lines, 1)
	requireDec(t, 400, stmt.Closing)
}
