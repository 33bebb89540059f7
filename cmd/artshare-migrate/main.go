// Package main is the entry point for the ArtShare migration tool.
// It applies the object store schema and upgrades stored entities to the
// current schema version.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/prn-tf/artshare/internal/bootstrap"
	"github.com/prn-tf/artshare/internal/config"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	flags := flag.NewFlagSet("artshare-migrate", flag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the configuration file")
	flags.Usage = printUsage

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := flags.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("ArtShare Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
	case "up":
		err = up(*configPath)
	case "status":
		err = status(*configPath)
	case "upgrade":
		err = upgrade(*configPath)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, configPath string) (*bootstrap.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return bootstrap.OpenStore(ctx, cfg.Database, logger.With().Str("service", "artshare-migrate").Logger())
}

// up applies pending schema migrations.
func up(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	v, err := store.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s schema at version %d\n", store.Driver, v)
	return nil
}

func status(configPath string) error {
	ctx := context.Background()
	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if store.Migrator == nil {
		fmt.Printf("%s store has no schema\n", store.Driver)
		return nil
	}
	v, err := store.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s schema at version %d\n", store.Driver, v)
	return nil
}

// upgrade rewrites every stored entity older than the current schema
// version, moving legacy bare keys to qualified ones.
func upgrade(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger.With().Str("service", "artshare-migrate").Logger())
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.Gateway.UpgradeAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("upgraded %d entities\n", n)
	return nil
}

func printUsage() {
	fmt.Println(`ArtShare Migration Tool

Usage:
  artshare-migrate [--config path] <command>

Commands:
  up        Apply pending schema migrations
  status    Print the applied schema version
  upgrade   Rewrite stored entities to the current schema version
  version   Print version information
  help      Show this help message`)
}
