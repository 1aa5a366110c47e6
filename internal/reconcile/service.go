package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/backoffice/internal/posting"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

// RepositoryPort exposes the aggregates an integrity run compares.
type RepositoryPort interface {
	SlotTotals(ctx context.Context) ([]SlotTotal, error)
	CustomerTotals(ctx context.Context) ([]CustomerTotal, error)
	DuplicateReferences(ctx context.Context) ([]DuplicateRef, error)
	// DocumentFootprints reads documents and movement footprints from one snapshot.
	DocumentFootprints(ctx context.Context) ([]posting.Document, []Footprint, error)
}

// Service verifies the stock, balance and document invariants against stored data.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Run executes every check concurrently and returns the combined report. A read failure aborts
// the run; violations do not.
func (s *Service) Run(ctx context.Context) (Report, error) {
	report := Report{CheckedAt: s.now()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		totals, err := s.repo.SlotTotals(ctx)
		if err != nil {
			return err
		}
		report.Slots = len(totals)
		report.SlotViolations = checkSlots(totals)
		return nil
	})

	g.Go(func() error {
		totals, err := s.repo.CustomerTotals(ctx)
		if err != nil {
			return err
		}
		report.Customers = len(totals)
		report.BalanceViolations = checkBalances(totals)
		return nil
	})

	g.Go(func() error {
		dups, err := s.repo.DuplicateReferences(ctx)
		if err != nil {
			return err
		}
		report.DuplicateRefs = dups
		return nil
	})

	g.Go(func() error {
		docs, prints, err := s.repo.DocumentFootprints(ctx)
		if err != nil {
			return err
		}
		report.Documents = len(docs)
		report.DocumentViolations = checkDocuments(docs, prints)
		return nil
	})

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	attrs := []any{
		slog.Int("slots", report.Slots),
		slog.Int("customers", report.Customers),
		slog.Int("documents", report.Documents),
		slog.Int("violations", report.ViolationCount()),
	}
	if report.OK() {
		s.logger.Info("integrity check passed", attrs...)
	} else {
		s.logger.Warn("integrity check found violations", attrs...)
	}
	return report, nil
}

func checkSlots(totals []SlotTotal) []SlotViolation {
	var out []SlotViolation
	for _, t := range totals {
		expected := t.OpeningQty.Add(t.MovementSum)
		if !expected.Equal(t.Qty) {
			out = append(out, SlotViolation{ItemID: t.ItemID, LocationID: t.LocationID, Stored: t.Qty, Expected: expected})
		}
	}
	return out
}

func checkBalances(totals []CustomerTotal) []BalanceViolation {
	var out []BalanceViolation
	for _, t := range totals {
		expected := t.OpeningBalance.Add(t.Debit).Sub(t.Credit)
		if !expected.Equal(t.Balance) {
			out = append(out, BalanceViolation{CustomerID: t.CustomerID, Stored: t.Balance, Expected: expected})
		}
	}
	return out
}

type docKey struct {
	RefID      string
	ItemID     string
	LocationID string
}

// checkDocuments compares what each document should have moved with what its movements did.
// Posted documents owe their effect (stock audits owe their recorded diffs); drafts and deleted
// documents owe nothing. Import references are not documents and are ignored.
func checkDocuments(docs []posting.Document, prints []Footprint) []DocumentViolation {
	expected := make(map[docKey]decimal.Decimal)
	for _, doc := range docs {
		if doc.Status != posting.StatusPosted {
			continue
		}
		if doc.Type == posting.TypeStockAudit {
			for _, line := range doc.Lines {
				k := docKey{doc.ID, line.ItemID, line.Location(doc)}
				expected[k] = expected[k].Add(line.Diff)
			}
			continue
		}
		for _, d := range posting.EffectOf(doc).Stock {
			k := docKey{doc.ID, d.ItemID, d.LocationID}
			expected[k] = expected[k].Add(d.Delta)
		}
	}

	actual := make(map[docKey]decimal.Decimal)
	for _, p := range prints {
		if p.RefType == string(stock.RefImport) {
			continue
		}
		k := docKey{p.RefID, p.ItemID, p.LocationID}
		actual[k] = actual[k].Add(p.Net)
	}

	keys := make(map[docKey]struct{}, len(expected)+len(actual))
	for k := range expected {
		keys[k] = struct{}{}
	}
	for k := range actual {
		keys[k] = struct{}{}
	}

	var out []DocumentViolation
	for k := range keys {
		want, got := expected[k], actual[k]
		if want.Equal(got) {
			continue
		}
		out = append(out, DocumentViolation{DocumentID: k.RefID, ItemID: k.ItemID, LocationID: k.LocationID, Expected: want, Actual: got})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.LocationID < b.LocationID
	})
	return out
}
