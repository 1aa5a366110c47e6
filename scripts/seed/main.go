package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/posting"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := shared.ContextWithActor(context.Background(), "seed")
	rt, err := app.Bootstrap(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer rt.Close()

	fmt.Println("→ Seeding items and opening stock...")
	if err := seedStock(ctx, rt.Pool); err != nil {
		log.Fatalf("seed stock: %v", err)
	}
	fmt.Println("→ Seeding customers...")
	if err := seedCustomers(ctx, rt.Pool); err != nil {
		log.Fatalf("seed customers: %v", err)
	}
	fmt.Println("→ Posting demo documents...")
	if err := seedDocuments(ctx, rt.Engine); err != nil {
		log.Fatalf("seed documents: %v", err)
	}

	report, err := rt.Reconcile.Run(ctx)
	if err != nil {
		log.Fatalf("integrity check: %v", err)
	}
	if !report.OK() {
		log.Fatalf("integrity check found %d violations after seeding", report.ViolationCount())
	}
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedStock(ctx context.Context, pool *pgxpool.Pool) error {
	items := []struct {
		id       string
		name     string
		location string
		opening  int64
	}{
		{"RICE-5KG", "Rice 5kg", "STORE-1", 120},
		{"OIL-1L", "Cooking oil 1L", "STORE-1", 80},
		{"SUGAR-1KG", "Sugar 1kg", "STORE-1", 60},
		{"RICE-5KG", "Rice 5kg", "WAREHOUSE", 400},
	}
	for _, it := range items {
		if _, err := pool.Exec(ctx, `
			INSERT INTO items (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`, it.id, it.name); err != nil {
			return err
		}
		qty := decimal.NewFromInt(it.opening)
		if _, err := pool.Exec(ctx, `
			INSERT INTO stock_slots (item_id, location_id, qty, opening_qty) VALUES ($1, $2, $3, $3)
			ON CONFLICT (item_id, location_id) DO NOTHING`, it.id, it.location, qty); err != nil {
			return err
		}
	}
	return nil
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool) error {
	customers := []struct {
		id      string
		name    string
		opening int64
	}{
		{"CUST-001", "Toko Makmur", 250000},
		{"CUST-002", "Warung Sari", 0},
	}
	for _, c := range customers {
		opening := decimal.NewFromInt(c.opening)
		if _, err := pool.Exec(ctx, `
			INSERT INTO customers (id, name, opening_balance, balance) VALUES ($1, $2, $3, $3)
			ON CONFLICT (id) DO NOTHING`, c.id, c.name, opening); err != nil {
			return err
		}
	}
	return nil
}

func seedDocuments(ctx context.Context, engine *posting.Engine) error {
	now := time.Now().UTC()
	docs := []posting.Document{
		{
			ID: "PUR-0001", Type: posting.TypePurchase, Status: posting.StatusPosted, LocationID: "STORE-1", Date: now,
			Lines: []posting.Line{{ItemID: "OIL-1L", Quantity: decimal.NewFromInt(24)}},
		},
		{
			ID: "SAL-0001", Type: posting.TypeSale, Status: posting.StatusPosted, LocationID: "STORE-1", Date: now,
			CustomerID: "CUST-001", PayMode: posting.PayCash,
			NetTotal: decimal.NewFromInt(180000), PaidAmount: decimal.NewFromInt(100000),
			Lines: []posting.Line{
				{ItemID: "RICE-5KG", Quantity: decimal.NewFromInt(2)},
				{ItemID: "OIL-1L", Quantity: decimal.NewFromInt(3)},
			},
		},
		{
			ID: "SAL-0002", Type: posting.TypeSale, Status: posting.StatusDraft, LocationID: "STORE-1", Date: now,
			CustomerID: "CUST-002", PayMode: posting.PayCredit, NetTotal: decimal.NewFromInt(45000),
			Lines: []posting.Line{{ItemID: "SUGAR-1KG", Quantity: decimal.NewFromInt(3)}},
		},
	}
	for _, doc := range docs {
		if _, err := engine.Create(ctx, doc); err != nil {
			if errors.Is(err, shared.ErrDuplicateDocument) {
				continue
			}
			return fmt.Errorf("%s: %w", doc.ID, err)
		}
	}
	return nil
}
