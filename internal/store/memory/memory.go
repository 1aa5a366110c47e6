// Package memory provides an in-memory store implementing the posting, stock, ledger and
// reconcile repository ports. Transactions run serially on a copy of the state that replaces
// the committed state only when the callback succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/posting"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

type slotKey struct {
	ItemID     string
	LocationID string
}

type state struct {
	items     map[string]stock.Item
	slots     map[slotKey]stock.Slot
	movements []stock.Movement
	customers map[string]ledger.Customer
	entries   []ledger.Entry
	docs      map[string]posting.Document
	seqs      map[posting.DocumentType]int64
	keys      map[string]string
}

func newState() *state {
	return &state{
		items:     make(map[string]stock.Item),
		slots:     make(map[slotKey]stock.Slot),
		customers: make(map[string]ledger.Customer),
		docs:      make(map[string]posting.Document),
		seqs:      make(map[posting.DocumentType]int64),
		keys:      make(map[string]string),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.slots {
		out.slots[k] = v
	}
	out.movements = append([]stock.Movement(nil), s.movements...)
	for k, v := range s.customers {
		out.customers[k] = v
	}
	out.entries = append([]ledger.Entry(nil), s.entries...)
	for k, v := range s.docs {
		out.docs[k] = v.Clone()
	}
	for k, v := range s.seqs {
		out.seqs[k] = v
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	return out
}

// Store is the in-memory store.
type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string]error
}

// New constructs an empty Store.
func New() *Store {
	return &Store{st: newState(), faults: make(map[string]error)}
}

// FailNext makes the next call of the named transactional operation return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// AddItem registers an item.
func (s *Store) AddItem(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.items[id] = stock.Item{ID: id, Name: name}
}

// SeedSlot sets both the opening and current quantity of a slot.
func (s *Store) SeedSlot(itemID, locationID string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.items[itemID]; !ok {
		s.st.items[itemID] = stock.Item{ID: itemID}
	}
	s.st.slots[slotKey{itemID, locationID}] = stock.Slot{ItemID: itemID, LocationID: locationID, Qty: qty, OpeningQty: qty}
}

// AddCustomer registers a customer whose balance starts at the opening anchor.
func (s *Store) AddCustomer(id string, opening decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[id] = ledger.Customer{ID: id, OpeningBalance: opening, Balance: opening}
}

// SetCustomerBalance overwrites the cached balance, simulating drift.
func (s *Store) SetCustomerBalance(id string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.st.customers[id]
	c.Balance = balance
	s.st.customers[id] = c
}

// SetSlotQty overwrites a slot quantity without a movement, simulating drift.
func (s *Store) SetSlotQty(itemID, locationID string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slotKey{itemID, locationID}
	slot := s.st.slots[k]
	slot.Qty = qty
	s.st.slots[k] = slot
}

// InsertRawEntry appends an entry bypassing the mutator, simulating legacy data.
func (s *Store) InsertRawEntry(e ledger.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.entries = append(s.st.entries, e)
}

// Movements returns a copy of the movement log in insertion order.
func (s *Store) Movements() []stock.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stock.Movement(nil), s.st.movements...)
}

// IdempotencyKeys returns the number of committed idempotency keys.
func (s *Store) IdempotencyKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.keys)
}

// Entries returns a copy of all ledger entries in insertion order.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Entry(nil), s.st.entries...)
}

// Slot returns the current slot, zero when absent.
func (s *Store) Slot(itemID, locationID string) stock.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.st.slots[slotKey{itemID, locationID}]
	if !ok {
		return stock.Slot{ItemID: itemID, LocationID: locationID}
	}
	return slot
}

// Customer returns the stored customer.
func (s *Store) Customer(id string) ledger.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.customers[id]
}

func (s *Store) transact(ctx context.Context, fn func(*tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := &tx{st: s.st.clone(), store: s}
	if err := fn(work); err != nil {
		return err
	}
	s.st = work.st
	return nil
}

// WithTx implements posting.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, posting.TxRepository) error) error {
	return s.transact(ctx, func(t *tx) error { return fn(ctx, t) })
}

// WithStockTx implements stock.TxRunner.
func (s *Store) WithStockTx(ctx context.Context, fn func(context.Context, stock.TxRepository, stock.KeyClaimer) error) error {
	return s.transact(ctx, func(t *tx) error { return fn(ctx, t, t) })
}

// WithLedgerTx implements ledger.RepositoryPort.
func (s *Store) WithLedgerTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return s.transact(ctx, func(t *tx) error { return fn(ctx, t) })
}

// GetDocument implements posting.RepositoryPort.
func (s *Store) GetDocument(_ context.Context, id string) (posting.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.st.docs[id]
	if !ok {
		return posting.Document{}, posting.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

// GetItem implements stock.RepositoryPort.
func (s *Store) GetItem(_ context.Context, itemID string) (stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.st.items[itemID]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	for _, slot := range s.st.slots {
		if slot.ItemID == itemID {
			item.Slots = append(item.Slots, slot)
		}
	}
	sort.Slice(item.Slots, func(i, j int) bool { return item.Slots[i].LocationID < item.Slots[j].LocationID })
	return item, nil
}

// ListMovements implements stock.RepositoryPort.
func (s *Store) ListMovements(_ context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []stock.Movement{}
	for _, m := range s.st.movements {
		if m.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID != "" && m.LocationID != filter.LocationID {
			continue
		}
		if !filter.Range.Contains(m.CreatedAt) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetCustomer implements ledger.RepositoryPort.
func (s *Store) GetCustomer(_ context.Context, id string) (ledger.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, nil
}

// ListCustomerIDs implements ledger.RepositoryPort.
func (s *Store) ListCustomerIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.st.customers))
	for id := range s.st.customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListEntries implements ledger.RepositoryPort.
func (s *Store) ListEntries(_ context.Context, customerID string, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rng := shared.DateRange{From: from, To: to}
	out := []ledger.Entry{}
	for _, e := range s.st.entries {
		if e.CustomerID == customerID && rng.Contains(e.Date) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// SumBefore implements ledger.RepositoryPort.
func (s *Store) SumBefore(_ context.Context, customerID string, before time.Time) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range s.st.entries {
		if e.CustomerID == customerID && e.Date.Before(before) {
			debit = debit.Add(e.Debit)
			credit = credit.Add(e.Credit)
		}
	}
	return debit, credit, nil
}

// SlotTotals implements reconcile.RepositoryPort.
func (s *Store) SlotTotals(context.Context) ([]reconcile.SlotTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := make(map[slotKey]decimal.Decimal)
	for _, m := range s.st.movements {
		k := slotKey{m.ItemID, m.LocationID}
		sums[k] = sums[k].Add(m.Delta())
	}
	out := make([]reconcile.SlotTotal, 0, len(s.st.slots))
	for k, slot := range s.st.slots {
		out = append(out, reconcile.SlotTotal{
			ItemID:      k.ItemID,
			LocationID:  k.LocationID,
			Qty:         slot.Qty,
			OpeningQty:  slot.OpeningQty,
			MovementSum: sums[k],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}

// CustomerTotals implements reconcile.RepositoryPort.
func (s *Store) CustomerTotals(context.Context) ([]reconcile.CustomerTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[string]*reconcile.CustomerTotal, len(s.st.customers))
	for id, c := range s.st.customers {
		totals[id] = &reconcile.CustomerTotal{CustomerID: id, OpeningBalance: c.OpeningBalance, Balance: c.Balance}
	}
	for _, e := range s.st.entries {
		t, ok := totals[e.CustomerID]
		if !ok {
			continue
		}
		t.Debit = t.Debit.Add(e.Debit)
		t.Credit = t.Credit.Add(e.Credit)
	}
	out := make([]reconcile.CustomerTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

// DuplicateReferences implements reconcile.RepositoryPort.
func (s *Store) DuplicateReferences(context.Context) ([]reconcile.DuplicateRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.st.entries {
		counts[e.RefID]++
	}
	var out []reconcile.DuplicateRef
	for ref, n := range counts {
		if n > 1 {
			out = append(out, reconcile.DuplicateRef{RefID: ref, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RefID < out[j].RefID })
	return out, nil
}

// DocumentFootprints implements reconcile.RepositoryPort. Both results come from the same
// committed state.
func (s *Store) DocumentFootprints(context.Context) ([]posting.Document, []reconcile.Footprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]posting.Document, 0, len(s.st.docs))
	for _, d := range s.st.docs {
		docs = append(docs, d.Clone())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	type fpKey struct {
		refType, refID, itemID, locationID string
	}
	sums := make(map[fpKey]decimal.Decimal)
	var order []fpKey
	for _, m := range s.st.movements {
		k := fpKey{string(m.RefType), m.RefID, m.ItemID, m.LocationID}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(m.Delta())
	}
	prints := make([]reconcile.Footprint, 0, len(order))
	for _, k := range order {
		prints = append(prints, reconcile.Footprint{RefType: k.refType, RefID: k.refID, ItemID: k.itemID, LocationID: k.locationID, Net: sums[k]})
	}
	return docs, prints, nil
}

type tx struct {
	st    *state
	store *Store
}

func (t *tx) fault(op string) error {
	err, ok := t.store.faults[op]
	if !ok {
		return nil
	}
	delete(t.store.faults, op)
	return err
}

func (t *tx) GetItem(_ context.Context, itemID string) (stock.Item, error) {
	item, ok := t.st.items[itemID]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return item, nil
}

func (t *tx) GetSlotForUpdate(_ context.Context, itemID, locationID string) (stock.Slot, error) {
	slot, ok := t.st.slots[slotKey{itemID, locationID}]
	if !ok {
		return stock.Slot{ItemID: itemID, LocationID: locationID}, stock.ErrSlotNotFound
	}
	return slot, nil
}

func (t *tx) UpsertSlot(_ context.Context, slot stock.Slot) error {
	if err := t.fault("UpsertSlot"); err != nil {
		return err
	}
	t.st.slots[slotKey{slot.ItemID, slot.LocationID}] = slot
	return nil
}

func (t *tx) InsertMovement(_ context.Context, m stock.Movement) error {
	if err := t.fault("InsertMovement"); err != nil {
		return err
	}
	t.st.movements = append(t.st.movements, m)
	return nil
}

func (t *tx) GetCustomerForUpdate(_ context.Context, id string) (ledger.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, nil
}

func (t *tx) UpdateCustomerBalance(_ context.Context, id string, balance decimal.Decimal, at time.Time) error {
	if err := t.fault("UpdateCustomerBalance"); err != nil {
		return err
	}
	c, ok := t.st.customers[id]
	if !ok {
		return ledger.ErrCustomerNotFound
	}
	c.Balance = balance
	c.UpdatedAt = at
	t.st.customers[id] = c
	return nil
}

func (t *tx) GetEntryByRef(_ context.Context, refID string) (ledger.Entry, error) {
	for _, e := range t.st.entries {
		if e.RefID == refID {
			return e, nil
		}
	}
	return ledger.Entry{}, ledger.ErrEntryNotFound
}

func (t *tx) InsertEntry(_ context.Context, e ledger.Entry) error {
	if err := t.fault("InsertEntry"); err != nil {
		return err
	}
	for _, existing := range t.st.entries {
		if existing.RefID == e.RefID {
			return errors.New("memory: duplicate ledger reference " + e.RefID)
		}
	}
	t.st.entries = append(t.st.entries, e)
	return nil
}

func (t *tx) DeleteEntry(_ context.Context, id string) error {
	for i, e := range t.st.entries {
		if e.ID == id {
			t.st.entries = append(t.st.entries[:i], t.st.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *tx) SumEntries(_ context.Context, customerID string) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range t.st.entries {
		if e.CustomerID == customerID {
			debit = debit.Add(e.Debit)
			credit = credit.Add(e.Credit)
		}
	}
	return debit, credit, nil
}

func (t *tx) GetDocumentForUpdate(_ context.Context, id string) (posting.Document, error) {
	doc, ok := t.st.docs[id]
	if !ok {
		return posting.Document{}, posting.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (t *tx) InsertDocument(_ context.Context, doc posting.Document) error {
	if err := t.fault("InsertDocument"); err != nil {
		return err
	}
	if _, ok := t.st.docs[doc.ID]; ok {
		return shared.ErrDuplicateDocument
	}
	t.st.docs[doc.ID] = doc.Clone()
	return nil
}

func (t *tx) UpdateDocument(_ context.Context, doc posting.Document) error {
	if err := t.fault("UpdateDocument"); err != nil {
		return err
	}
	if _, ok := t.st.docs[doc.ID]; !ok {
		return posting.ErrDocumentNotFound
	}
	t.st.docs[doc.ID] = doc.Clone()
	return nil
}

func (t *tx) DeleteDocument(_ context.Context, id string) error {
	delete(t.st.docs, id)
	return nil
}

func (t *tx) NextPostingSeq(_ context.Context, docType posting.DocumentType) (int64, error) {
	t.st.seqs[docType]++
	return t.st.seqs[docType], nil
}

// CheckAndInsert implements stock.KeyClaimer. The claim is dropped when the transaction fails.
func (t *tx) CheckAndInsert(_ context.Context, key, module string) error {
	if err := t.fault("CheckAndInsert"); err != nil {
		return err
	}
	if _, ok := t.st.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.st.keys[key] = module
	return nil
}
