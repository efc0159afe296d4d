// Command brandviz-admin runs operator tasks against the BrandViz database.
//
//	brandviz-admin migrate
//	brandviz-admin grant-credits -email jane@acme.com -amount 25 [-ref ticket-123] [-note "..."]
//	brandviz-admin validate-prompts [-file data/prompts.csv]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/billing"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/database"
	"github.com/brandviz/brandviz/internal/email"
	"github.com/brandviz/brandviz/internal/prompts"
	"github.com/brandviz/brandviz/internal/repository"
	"github.com/brandviz/brandviz/internal/repository/postgres"
	"github.com/brandviz/brandviz/services"
)

const usage = `usage: brandviz-admin <command> [flags]

commands:
  migrate            apply pending database migrations
  grant-credits      add credits to a user by email
  validate-prompts   parse a prompt catalog CSV and report its stages
`

var errUsage = errors.New("invalid usage")

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(context.Background(), os.Args[1:], os.Stdout, logger); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		logger.Fatal().Err(err).Msg("command failed")
	}
}

func run(ctx context.Context, args []string, out io.Writer, logger zerolog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "migrate":
		return migrate(ctx, logger)
	case "grant-credits":
		return grantCredits(ctx, args[1:], out, logger)
	case "validate-prompts":
		return validatePrompts(args[1:], out)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func connect(ctx context.Context, logger zerolog.Logger) (*config.Config, *repository.Manager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info().Str("db_host", cfg.Database.Host).Str("db_name", cfg.Database.Name).Msg("connected to database")
	return cfg, postgres.NewManager(db), func() { db.Close() }, nil
}

func migrate(ctx context.Context, logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.Migrate(ctx, db, logger)
}

func grantCredits(ctx context.Context, args []string, out io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("grant-credits", flag.ContinueOnError)
	fs.SetOutput(out)
	emailAddr := fs.String("email", "", "email of the user to credit")
	amount := fs.Float64("amount", 0, "credits to add")
	ref := fs.String("ref", "", "idempotency reference; reruns with the same ref grant once")
	note := fs.String("note", "", "description stored on the ledger row")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *emailAddr == "" || *amount <= 0 {
		return fmt.Errorf("-email and a positive -amount are required: %w", errUsage)
	}
	if *ref == "" {
		*ref = uuid.NewString()
	}
	if *note == "" {
		*note = "Manual credit grant"
	}

	cfg, repos, closeDB, err := connect(ctx, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	user, err := repos.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(*emailAddr)))
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("no user with email %s", *emailAddr)
	}
	if err != nil {
		return err
	}

	credits := services.NewCreditService(cfg, repos, billing.Disabled{}, email.NewLogSender(logger), nil, logger)
	txn, err := credits.Grant(ctx, services.LedgerEntry{
		UserID:      user.ID,
		Amount:      *amount,
		SourceType:  services.SourceAdmin,
		SourceID:    *ref,
		Description: *note,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "granted %.2f credits to %s (ref %s), balance now %.2f\n", txn.Amount, user.Email, *ref, txn.BalanceAfter)
	return nil
}

func validatePrompts(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate-prompts", flag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.String("file", "data/prompts.csv", "prompt catalog CSV")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	catalog, err := prompts.LoadFile(*path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: ok\n", *path)
	for _, stage := range catalog.Stages() {
		fmt.Fprintf(out, "  %-4s mode=%-9s weight=%.2f\n", stage, catalog.Mode(stage), catalog.StageWeight(stage))
	}
	fmt.Fprintf(out, "  position keys: %v, absent weight %.2f\n", catalog.PositionKeys(), catalog.AbsentWeight())
	return nil
}
