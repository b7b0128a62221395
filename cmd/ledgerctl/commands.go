package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"finledger/internal/core"
	"finledger/internal/ledger"
	"finledger/internal/services"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  export [-o file]           write a snapshot of the whole ledger
  import [-replace] <file>   load a snapshot; without -replace only new transactions are merged
  generate                   project recurring templates now
  summary [-month m] [-year y]
`

// Ledger is the part of the finance service the commands use.
type Ledger interface {
	ExportSnapshot() core.Snapshot
	ImportSnapshot(ctx context.Context, snap core.Snapshot) error
	ImportTransactions(ctx context.Context, records []core.Transaction, opts ledger.ImportOptions) (int, error)
	GenerateRecurring(ctx context.Context) (int, error)
	Summary(month, year int) services.MonthSummary
	Today() core.Date
}

var errUsage = errors.New("invalid usage")

// run executes one command and returns the process exit code.
func run(ctx context.Context, l Ledger, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "export":
		err = runExport(l, args[1:], stdout, stderr)
	case "import":
		err = runImport(ctx, l, args[1:], stdout, stderr)
	case "generate":
		var n int
		n, err = l.GenerateRecurring(ctx)
		if err == nil {
			fmt.Fprintf(stdout, "generated %d transactions\n", n)
		}
	case "summary":
		err = runSummary(l, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "ledgerctl %s: %v\n", args[0], err)
		return 1
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags reports flag errors as usage errors; the flag set has already
// printed the details.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func runExport(l Ledger, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("export", stderr)
	out := fs.String("o", "", "output file (default: stdout)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l.ExportSnapshot())
}

func runImport(ctx context.Context, l Ledger, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("import", stderr)
	replace := fs.Bool("replace", false, "replace the whole ledger with the snapshot")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "import needs exactly one snapshot file")
		return errUsage
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse %s: %w", fs.Arg(0), err)
	}

	if *replace {
		if err := l.ImportSnapshot(ctx, snap); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "replaced ledger: %d transactions, %d budgets, %d recurring\n",
			len(snap.Transactions), len(snap.Budgets), len(snap.RecurringTransactions))
		return nil
	}
	n, err := l.ImportTransactions(ctx, snap.Transactions, ledger.ImportOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "imported %d of %d transactions\n", n, len(snap.Transactions))
	return nil
}

func runSummary(l Ledger, args []string, stdout, stderr io.Writer) error {
	today := l.Today()
	fs := newFlagSet("summary", stderr)
	month := fs.Int("month", int(today.Month()), "month (1-12)")
	year := fs.Int("year", today.Year(), "year")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *month < 1 || *month > 12 {
		fmt.Fprintf(stderr, "invalid month %d\n", *month)
		return errUsage
	}

	s := l.Summary(*month, *year)
	fmt.Fprintf(stdout, "%04d-%02d (%s)\n", s.Year, s.Month, s.Currency)
	fmt.Fprintf(stdout, "  income       %s\n", s.Income.StringFixed(2))
	fmt.Fprintf(stdout, "  expense      %s\n", s.Expense.StringFixed(2))
	fmt.Fprintf(stdout, "  savings      %s\n", s.Savings.StringFixed(2))
	fmt.Fprintf(stdout, "  withdrawals  %s\n", s.Withdrawals.StringFixed(2))
	fmt.Fprintf(stdout, "  cash balance %s\n", s.CashBalance.StringFixed(2))
	fmt.Fprintf(stdout, "  net worth    %s\n", s.NetWorth.StringFixed(2))
	for _, b := range s.Budgets {
		mark := ""
		if b.IsExceeded {
			mark = "  EXCEEDED"
		}
		fmt.Fprintf(stdout, "  budget %-12s %s / %s%s\n",
			b.Budget.Category, b.Spent.StringFixed(2), b.Budget.MonthlyLimit.StringFixed(2), mark)
	}
	return nil
}
