// Command ledgerctl runs maintenance tasks against the configured backend.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"finledger/internal/cli"
	"finledger/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	ctx := context.Background()
	app, err := cli.BuildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	code := run(ctx, app.Finance, os.Args[1:], os.Stdout, os.Stderr)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout+5*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}
