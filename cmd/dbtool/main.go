package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"lacrosse-alerts/internal/config"
	"lacrosse-alerts/internal/db"
	"lacrosse-alerts/internal/logging"
	"lacrosse-alerts/internal/migrate"
	"lacrosse-alerts/internal/modules/devices/repository"
)

const appName = "lacrosse-dbtool"

var version = "dev"

const usage = `usage: %s <command>
  migrate  apply pending schema migrations
  devices  list registered devices
`

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
			os.Exit(1)
		}
	}

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, appName)

	if err := run(context.Background(), os.Args[1], cfg, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	switch command {
	case "migrate", "devices":
	default:
		return fmt.Errorf("unknown command")
	}

	conn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	switch command {
	case "migrate":
		applied, err := migrate.Run(ctx, conn, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "migrations applied: %d\n", len(applied))
		return nil
	default:
		list, err := repository.NewRepository(conn).GetDevices(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tLAST SEEN")
		for _, d := range list {
			deviceType, lastSeen := "-", "never"
			if d.DeviceType != nil {
				deviceType = *d.DeviceType
			}
			if d.LastSeenAt != nil {
				lastSeen = d.LastSeenAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Name, deviceType, lastSeen)
		}
		return tw.Flush()
	}
}
