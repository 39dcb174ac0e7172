package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/identiko/userbridge/internal/config"
	"github.com/identiko/userbridge/internal/logging"
	"github.com/identiko/userbridge/provider"
	"github.com/identiko/userbridge/restapi"
)

var Version = "dev"

const usage = `usage: userbridge <command> [args]

commands:
  validate                      check the configuration, probing the backend
  authenticate <user> <pass>    verify a credential pair
  find <user>                   look up one user
  search [pattern]              list users matching pattern (all if omitted)
  create <user>                 create a user with placeholder attributes
  set <user> <attr> <value>     patch one user attribute
  delete <user>                 delete a user
  watch                         report pool statistics until interrupted
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("userbridge starting",
		slog.String("version", Version),
		slog.String("base_url", cfg.BaseURL),
		slog.String("auth_type", cfg.AuthType),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == "validate" {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Println("configuration ok")
		return nil
	}

	client := restapi.New(cfg, logger)
	prov := provider.New(client, logger)

	switch command {
	case "authenticate":
		if len(args) != 2 {
			return fmt.Errorf("authenticate needs <user> <pass>")
		}
		ok, err := prov.IsValid(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil

	case "find":
		if len(args) != 1 {
			return fmt.Errorf("find needs <user>")
		}
		user, err := prov.GetUserByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %s not found", args[0])
		}
		return printJSON(user)

	case "search":
		pattern := ""
		if len(args) > 0 {
			pattern = args[0]
		}
		users, err := prov.SearchForUser(ctx, pattern, 0, -1)
		if err != nil {
			return err
		}
		return printJSON(users)

	case "create":
		if len(args) != 1 {
			return fmt.Errorf("create needs <user>")
		}
		user, err := prov.AddUser(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(user)

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("set needs <user> <attr> <value>")
		}
		return prov.UpdateAttribute(ctx, args[0], args[1], args[2])

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("delete needs <user>")
		}
		return prov.RemoveUser(ctx, args[0])

	case "watch":
		return watch(ctx, client, cfg)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// watch keeps the stats reporter running until the context is cancelled by
// a signal.
func watch(ctx context.Context, client *restapi.Client, cfg *config.Config) error {
	interval := cfg.StatsInterval()
	if interval <= 0 {
		return fmt.Errorf("HTTP_STATS_INTERVAL must be positive for watch")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		client.ReportStats(gctx, interval)
		return nil
	})
	return g.Wait()
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
