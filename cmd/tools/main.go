package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init-db":
		if err := runInitDB(os.Args[2:]); err != nil {
			sugar.Fatalf("init-db: %v", err)
		}
	case "inspect-segment":
		if err := runInspectSegment(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("inspect-segment: %v", err)
		}
	case "write-segment":
		if err := runWriteSegment(os.Args[2:]); err != nil {
			sugar.Fatalf("write-segment: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: strata-tools <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  init-db           Create the PostgreSQL worker registry tables")
	logger.Info("  inspect-segment   Print the capabilities and a preview of every column of a segment")
	logger.Info("  write-segment     Encode a JSON rows file into a segment")
}
