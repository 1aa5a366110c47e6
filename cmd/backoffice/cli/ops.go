package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/stockimport"
)

// Exit codes shared by the ops commands.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitViolations = 10
)

// IntegrityRunner runs one integrity pass.
type IntegrityRunner interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// BalanceResyncer recomputes cached customer balances.
type BalanceResyncer interface {
	Resync(ctx context.Context, customerID string) (ledger.ResyncResult, error)
	ResyncAll(ctx context.Context) ([]ledger.ResyncResult, error)
}

// StockImporter applies a workbook synchronously.
type StockImporter interface {
	Import(ctx context.Context, content []byte) (stockimport.Report, error)
}

// OpsCLI runs integrity, resync and import commands against the database directly.
type OpsCLI struct {
	integrity IntegrityRunner
	ledger    BalanceResyncer
	importer  StockImporter
}

// NewOpsCLI constructs the helper. importer may be nil when only enqueued imports are used.
func NewOpsCLI(integrity IntegrityRunner, ledger BalanceResyncer, importer StockImporter) (*OpsCLI, error) {
	if integrity == nil || ledger == nil {
		return nil, errors.New("ops cli: integrity and ledger services required")
	}
	return &OpsCLI{integrity: integrity, ledger: ledger, importer: importer}, nil
}

// IntegrityOptions defines flags for the integrity command.
type IntegrityOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// IntegrityCommand runs the check once and prints the report. Violations exit with ExitViolations.
func (c *OpsCLI) IntegrityCommand(ctx context.Context, opts IntegrityOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	report, err := c.integrity.Run(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "integrity: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		summary := struct {
			OK bool `json:"ok"`
			reconcile.Report
		}{OK: report.OK(), Report: report}
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "integrity: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderIntegrityHuman(stdout, report)
	}
	if !report.OK() {
		return ExitViolations
	}
	return ExitOK
}

func renderIntegrityHuman(w io.Writer, report reconcile.Report) {
	_, _ = fmt.Fprintf(w, "checked %d slots, %d customers, %d documents\n", report.Slots, report.Customers, report.Documents)
	if report.OK() {
		_, _ = fmt.Fprintln(w, "no violations")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tSUBJECT\tSTORED\tEXPECTED")
	for _, v := range report.SlotViolations {
		_, _ = fmt.Fprintf(tw, "slot\t%s@%s\t%s\t%s\n", v.ItemID, v.LocationID, v.Stored, v.Expected)
	}
	for _, v := range report.BalanceViolations {
		_, _ = fmt.Fprintf(tw, "balance\t%s\t%s\t%s\n", v.CustomerID, v.Stored, v.Expected)
	}
	for _, v := range report.DuplicateRefs {
		_, _ = fmt.Fprintf(tw, "duplicate_ref\t%s\t%d\t1\n", v.RefID, v.Count)
	}
	for _, v := range report.DocumentViolations {
		_, _ = fmt.Fprintf(tw, "document\t%s/%s@%s\t%s\t%s\n", v.DocumentID, v.ItemID, v.LocationID, v.Actual, v.Expected)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "%d violations\n", report.ViolationCount())
}

// ResyncOptions defines flags for the resync command. An empty CustomerID resyncs everyone.
type ResyncOptions struct {
	CustomerID string
	Stdout     io.Writer
	Stderr     io.Writer
}

// ResyncCommand recomputes cached balances and prints every corrected drift.
func (c *OpsCLI) ResyncCommand(ctx context.Context, opts ResyncOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	var results []ledger.ResyncResult
	if opts.CustomerID != "" {
		result, err := c.ledger.Resync(ctx, opts.CustomerID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "resync: %v\n", err)
			return ExitError
		}
		results = append(results, result)
	} else {
		var err error
		results, err = c.ledger.ResyncAll(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "resync: %v\n", err)
			return ExitError
		}
	}
	corrected := 0
	for _, r := range results {
		if r.Drift.IsZero() {
			continue
		}
		corrected++
		_, _ = fmt.Fprintf(stdout, "%s: %s -> %s (drift %s)\n", r.CustomerID, r.Before, r.After, r.Drift)
	}
	_, _ = fmt.Fprintf(stdout, "%d balances corrected\n", corrected)
	return ExitOK
}

// ImportOptions defines flags for a synchronous import.
type ImportOptions struct {
	Path   string
	Stdout io.Writer
	Stderr io.Writer
}

// ImportCommand applies a workbook in-process. Rejected rows exit with ExitViolations.
func (c *OpsCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c.importer == nil {
		_, _ = fmt.Fprintln(stderr, "import: importer not configured")
		return ExitError
	}
	content, err := os.ReadFile(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import: %v\n", err)
		return ExitError
	}
	report, err := c.importer.Import(ctx, content)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import: %v\n", err)
		return ExitError
	}
	_, _ = fmt.Fprintf(stdout, "batch %s: %d rows, %d applied, %d duplicates, %d rejected\n",
		report.BatchID, report.Rows, len(report.Applied), report.Duplicates, len(report.Errors))
	for _, rowErr := range report.Errors {
		_, _ = fmt.Fprintf(stdout, "  %s\n", rowErr.Error())
	}
	if !report.OK() {
		return ExitViolations
	}
	return ExitOK
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
