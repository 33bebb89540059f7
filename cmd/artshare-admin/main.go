// Package main is the entry point for the ArtShare admin CLI.
// It provides operator commands for auditing and repairing stored data.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

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

type options struct {
	configPath string
	dryRun     bool
	yes        bool
}

func main() {
	var opts options
	flags := flag.NewFlagSet("artshare-admin", flag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "report repairs without writing")
	flags.BoolVar(&opts.yes, "yes", false, "confirm destructive commands")
	flags.Usage = printUsage

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := flags.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("ArtShare Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	if err := run(opts, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, args []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cfg.Maintenance.DryRun = opts.dryRun

	logger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	logger = logger.With().Str("service", "artshare-admin").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	cmd := args[0]
	if len(args) > 1 {
		cmd += " " + args[1]
	}

	switch cmd {
	case "users list":
		return listUsers(ctx, app)
	case "users dedupe":
		removed, err := app.Maintenance.DedupeUsers(ctx)
		for _, k := range removed {
			fmt.Printf("removed %s\n", k)
		}
		return err
	case "points audit":
		if len(args) < 3 {
			return fmt.Errorf("usage: artshare-admin points audit <user-id>")
		}
		return auditPoints(ctx, app, args[2])
	case "points sync":
		if len(args) < 3 {
			return fmt.Errorf("usage: artshare-admin points sync <user-id>")
		}
		user, err := app.Points.SyncUserPoints(ctx, args[2])
		if err != nil {
			return err
		}
		dropped, err := app.Users.SyncUserArtworks(ctx, user.ID)
		if err != nil {
			return err
		}
		fmt.Printf("user %s: %d points, %d dangling artworks dropped\n", user.ID, user.Points, len(dropped))
		return nil
	case "maintenance run":
		result := app.Maintenance.RunOnce(ctx)
		if result.Skipped {
			return fmt.Errorf("another sweep holds the maintenance lock")
		}
		fmt.Printf("users repaired: %d\nartworks repaired: %d\nrefs dropped: %d\nerrors: %d\n",
			result.UsersRepaired, result.ArtworksRepaired, result.RefsDropped, result.Errors)
		for typeName, n := range result.CountersRaised {
			fmt.Printf("counter %s raised to %d\n", typeName, n)
		}
		return nil
	case "ids reconcile":
		raised, err := app.Gateway.Reconcile(ctx)
		if err != nil {
			return err
		}
		if len(raised) == 0 {
			fmt.Println("counters are up to date")
		}
		for typeName, n := range raised {
			fmt.Printf("counter %s raised to %d\n", typeName, n)
		}
		return nil
	case "purge":
		if !opts.yes {
			return fmt.Errorf("purge deletes every entity; rerun with --yes")
		}
		n, err := app.Maintenance.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d entities\n", n)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func listUsers(ctx context.Context, app *bootstrap.App) error {
	users, err := app.Maintenance.ListUsers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tPOINTS\tARTWORKS")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", u.ID, u.Username, u.Email, u.Points, len(u.Artworks))
	}
	return tw.Flush()
}

func auditPoints(ctx context.Context, app *bootstrap.App, userID string) error {
	user, err := app.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	txs, err := app.Points.Transactions(ctx, user.ID)
	if err != nil {
		return err
	}
	ledger, err := app.Points.LedgerBalance(ctx, user.ID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPOINTS\tSTATUS\tCREATED\tDESCRIPTION")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			tx.ID, tx.Type, tx.SignedAmount(), tx.Status, tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nbalance: %d\nledger:  %d\n", user.Points, ledger)
	if ledger != user.Points {
		fmt.Printf("MISMATCH: balance differs from ledger by %d\n", user.Points-ledger)
	}
	return nil
}

func printUsage() {
	fmt.Println(`ArtShare Admin CLI

Usage:
  artshare-admin [flags] <command> [arguments]

Commands:
  users list              List every user
  users dedupe            Remove user records stored under more than one key
  points audit <user-id>  Compare a user's balance with the transaction ledger
  points sync <user-id>   Repair a user's balance and drop dangling artwork ids
  maintenance run         Run one integrity sweep
  ids reconcile           Raise id counters to the highest stored ids
  purge                   Delete every entity and reset id counters (needs --yes)
  version                 Print version information
  help                    Show this help message

Flags:
  -c, --config string   path to the configuration file
      --dry-run         report repairs without writing
      --yes             confirm destructive commands`)
}
