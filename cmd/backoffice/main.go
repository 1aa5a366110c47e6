package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/backoffice/cmd/backoffice/cli"
	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const usage = `usage: backoffice <command> [flags]

commands:
  migrate [status]             apply pending migrations, or print their status
  integrity [-json]            run the integrity check once and print the report
  resync [customer-id]         recompute cached balances for one customer or all
  import [-sync] [-actor id] <file.xlsx>
                               enqueue a stock count workbook, or apply it in-process
  trigger <task-type> [arg]    enqueue a worker job (arg: "repair" or a customer id)
  queues                       print worker queue depth
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping backoffice cli")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "migrate":
		if len(args) > 1 && args[1] == "status" {
			err = db.MigrationStatus(ctx, cfg.PGDSN)
		} else {
			err = db.Migrate(ctx, cfg.PGDSN)
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
			return cli.ExitError
		}
		return cli.ExitOK
	case "integrity":
		fs := flag.NewFlagSet("integrity", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOut := fs.Bool("json", false, "print the report as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitError
		}
		return withOps(ctx, cfg, logger, stderr, func(ops *cli.OpsCLI) int {
			return ops.IntegrityCommand(ctx, cli.IntegrityOptions{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})
		})
	case "resync":
		customerID := ""
		if len(args) > 1 {
			customerID = args[1]
		}
		return withOps(ctx, cfg, logger, stderr, func(ops *cli.OpsCLI) int {
			return ops.ResyncCommand(ctx, cli.ResyncOptions{CustomerID: customerID, Stdout: stdout, Stderr: stderr})
		})
	case "import":
		fs := flag.NewFlagSet("import", flag.ContinueOnError)
		fs.SetOutput(stderr)
		inProcess := fs.Bool("sync", false, "apply the workbook in-process instead of enqueueing it")
		actor := fs.String("actor", os.Getenv("USER"), "actor recorded on the movements")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitError
		}
		if fs.NArg() != 1 {
			_, _ = fmt.Fprint(stderr, usage)
			return cli.ExitError
		}
		path := fs.Arg(0)
		if *inProcess {
			actorCtx := shared.ContextWithActor(ctx, *actor)
			return withOps(ctx, cfg, logger, stderr, func(ops *cli.OpsCLI) int {
				return ops.ImportCommand(actorCtx, cli.ImportOptions{Path: path, Stdout: stdout, Stderr: stderr})
			})
		}
		jobsCLI, err := newJobsCLI(cfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "import: %v\n", err)
			return cli.ExitError
		}
		defer func() { _ = jobsCLI.Close() }()
		info, err := jobsCLI.EnqueueImport(ctx, path, *actor)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "import: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s on %s as %s\n", path, info.Queue, info.ID)
		return cli.ExitOK
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprint(stderr, usage)
			return cli.ExitError
		}
		arg := ""
		if len(args) > 2 {
			arg = args[2]
		}
		jobsCLI, err := newJobsCLI(cfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "trigger: %v\n", err)
			return cli.ExitError
		}
		defer func() { _ = jobsCLI.Close() }()
		info, err := jobsCLI.Trigger(ctx, args[1], arg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "trigger: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s on %s as %s\n", info.Type, info.Queue, info.ID)
		return cli.ExitOK
	case "queues":
		jobsCLI, err := newJobsCLI(cfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "queues: %v\n", err)
			return cli.ExitError
		}
		defer func() { _ = jobsCLI.Close() }()
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "queues: %v\n", err)
			return cli.ExitError
		}
		for _, s := range stats {
			_, _ = fmt.Fprintf(stdout, "%s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return cli.ExitOK
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
}

func withOps(ctx context.Context, cfg *app.Config, logger *slog.Logger, stderr io.Writer, fn func(*cli.OpsCLI) int) int {
	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bootstrap: %v\n", err)
		return cli.ExitError
	}
	defer rt.Close()
	ops, err := cli.NewOpsCLI(rt.Reconcile, rt.Ledger, rt.Importer)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bootstrap: %v\n", err)
		return cli.ExitError
	}
	return fn(ops)
}

func newJobsCLI(cfg *app.Config) (*cli.JobsCLI, error) {
	opts, err := cfg.QueueRedis()
	if err != nil {
		return nil, err
	}
	return cli.NewJobsCLI(opts), nil
}
