package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/receipt-ledger/internal/receipt"
)

type rootCommand struct {
	cmd *ff.Command
	cfg *rootConfig
}

func newRootCommand(stdout io.Writer) *rootCommand {
	cfg := newRootConfig()
	cmd := &ff.Command{
		Name:      "receipt-ledger",
		Usage:     "receipt-ledger [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "capture receipt photos, read their totals and keep a ledger",
		Flags:     cfg.flags,
		Subcommands: []*ff.Command{
			newServeCommand(cfg),
			newCaptureCommand(cfg, stdout),
			newAddCommand(cfg, stdout),
			newListCommand(cfg, stdout),
			newSetTotalCommand(cfg, stdout),
			newSetCategoryCommand(cfg, stdout),
			newDeleteCommand(cfg, stdout),
			newExportCommand(cfg, stdout),
		},
	}
	return &rootCommand{cmd: cmd, cfg: cfg}
}

func newServeCommand(cfg *rootConfig) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(cfg.flags)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	return &ff.Command{
		Name:      "serve",
		Usage:     "receipt-ledger serve [FLAGS]",
		ShortHelp: "serve the JSON API and metrics",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			a, err := cfg.openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			server := receipt.NewServer(a.service, receipt.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			}, a.registry)

			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}
			return server.Start(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}

func newCaptureCommand(cfg *rootConfig, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("capture").SetParent(cfg.flags)
	return &ff.Command{
		Name:      "capture",
		Usage:     "receipt-ledger capture [FLAGS] <image>",
		ShortHelp: "read the total of one receipt image and record it",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("capture requires exactly one image path")
			}
			a, err := cfg.openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.Capture(ctx, receipt.FileAcquirer{Path: args[0]})
			if err != nil {
				if result != nil && result.Image != "" {
					fmt.Fprintf(stdout, "image kept as %s (#%d), no receipt recorded\n", result.Image, result.Sequence)
				}
				return err
			}
			r := result.Receipt
			fmt.Fprintf(stdout, "recorded receipt %d: %s (%s, image %s)\n", r.ID, r.Total.StringFixed(2), result.Phase, result.Image)
			return nil
		},
	}
}

func newAddCommand(cfg *rootConfig, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("add").SetParent(cfg.flags)
	var (
		total     = fs.StringLong("total", "", "Receipt total, e.g. 12.50")
		timestamp = fs.StringLong("timestamp", "", "Receipt time, e.g. '2024-03-09 14:05:07' (default now)")
		category  = fs.StringLong("category", "", "Receipt category (default Uncategorized)")
	)
	return &ff.Command{
		Name:      "add",
		Usage:     "receipt-ledger add --total AMOUNT [--timestamp TS] [--category NAME]",
		ShortHelp: "record a receipt by hand",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			a, err := cfg.openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ts := *timestamp
			if ts == "" {
				ts = time.Now().Format(receipt.TimestampLayout)
			}
			r, err := a.service.AddReceipt(*total, ts, *category)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "recorded receipt %d: %s\n", r.ID, r.Total.StringFixed(2))
			return nil
		},
	}
}

func newListCommand(cfg *rootConfig, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("list").SetParent(cfg.flags)
	return &ff.Command{
		Name:      "list",
		Usage:     "receipt-ledger list [FLAGS]",
		ShortHelp: "print every receipt and the total expense",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			a, err := cfg.openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			receipts, err := a.service.ListReceipts()
			if err != nil {
				return err
			}
			total, err := a.service.TotalExpense()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "ID\tTIMESTAMP\tCATEGORY\tTOTAL\t")
			for _, r := range receipts {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", r.ID, r.Timestamp, r.Category, r.Total.StringFixed(2))
			}
			fmt.Fprintf(tw, "\t\tTotal\t%s\t\n", total.StringFixed(2))
			return tw.Flush()
		},
	}
}

func newSetTotalCommand(cfg *rootConfig, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("set-total").SetParent(cfg.flags)
	return &ff.Command{
		Name:      "set-total",
		Usage:     "receipt-ledger set-total [FLAGS] <id> <amount>",
		ShortHelp: "correct the total of a receipt",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return errors.New("set-total requires an id and an amount")
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := cfg.openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			found, err := a.service.UpdateTotal(id, args[1])
			return reportChange(stdout, id, found, err, "updated")
		},
	}
}

func newSetCategoryCommand(cfg *rootConfig, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("set-category").SetParent(cfg.flags)
	return &ff.Command{
		Name:      "set-category",
		Usage:     "receipt-ledger set-category [FLAGS] <id> [category]",
		ShortHelp: "recategorize a receipt; no category resets it",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errors.New("set-category requires an id and an optional category")
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			category := ""
			if len(args) == 2 {
				category = args[1]
			}
			a, err := cfg.openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			found, err := a.service.UpdateCategory(id, category)
			return reportChange(stdout, id, found, err, "updated")
		},
	}
}

func newDeleteCommand(cfg *rootConfig, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("delete").SetParent(cfg.flags)
	return &ff.Command{
		Name:      "delete",
		Usage:     "receipt-ledger delete [FLAGS] <id>",
		ShortHelp: "remove a receipt from the ledger",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("delete requires an id")
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := cfg.openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			found, err := a.service.DeleteReceipt(id)
			return reportChange(stdout, id, found, err, "deleted")
		},
	}
}

func newExportCommand(cfg *rootConfig, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("export").SetParent(cfg.flags)
	return &ff.Command{
		Name:      "export",
		Usage:     "receipt-ledger export [FLAGS] <out.xlsx>",
		ShortHelp: "write the ledger to an Excel workbook",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("export requires an output path")
			}
			a, err := cfg.openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.service.ExportXLSX()
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Fprintf(stdout, "wrote %s\n", args[0])
			return nil
		},
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &receipt.ValidationError{Field: "id", Value: s, Message: "must be a positive integer"}
	}
	return id, nil
}

// reportChange prints the outcome of an edit; a missing id is a no-op, not an error
func reportChange(stdout io.Writer, id uint64, found bool, err error, verb string) error {
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(stdout, "no receipt %d, nothing %s\n", id, verb)
		return nil
	}
	fmt.Fprintf(stdout, "%s receipt %d\n", verb, id)
	return nil
}
