package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/marquee/internal/middleware"
	"github.com/matt-riley/marquee/internal/repository"
)

const (
	commandServe        = "serve"
	commandMigrate      = "migrate"
	commandCreateAPIKey = "create-api-key"
	commandRevokeAPIKey = "revoke-api-key"
	commandListAPIKeys  = "list-api-keys"
)

var errUsage = errors.New("usage: server [serve | migrate | create-api-key NAME | revoke-api-key ID | list-api-keys]")

type command struct {
	name string
	arg  string
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: commandServe}, nil
	}

	name := args[0]
	rest := args[1:]
	switch name {
	case commandServe, commandMigrate, commandListAPIKeys:
		if len(rest) != 0 {
			return command{}, fmt.Errorf("%s takes no arguments: %w", name, errUsage)
		}
		return command{name: name}, nil
	case commandCreateAPIKey, commandRevokeAPIKey:
		if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
			return command{}, fmt.Errorf("%s requires exactly one argument: %w", name, errUsage)
		}
		return command{name: name, arg: strings.TrimSpace(rest[0])}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q: %w", name, errUsage)
	}
}

type apiKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (string, string, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
	ListAPIKeys(ctx context.Context) ([]repository.APIKeyMeta, error)
}

// createAPIKey prints the bearer token for a fresh key. The secret is not
// recoverable afterwards.
func createAPIKey(ctx context.Context, store apiKeyStore, name string, out io.Writer) error {
	keyID, secret, err := store.CreateAPIKey(ctx, name)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	_, err = fmt.Fprintln(out, middleware.FormatAPIKeyToken(keyID, secret))
	return err
}

func revokeAPIKey(ctx context.Context, store apiKeyStore, keyID string, out io.Writer) error {
	if err := store.RevokeAPIKey(ctx, keyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("api key %q not found or already revoked", keyID)
		}
		return fmt.Errorf("revoke api key: %w", err)
	}

	_, err := fmt.Fprintf(out, "revoked %s\n", keyID)
	return err
}

func listAPIKeys(ctx context.Context, store apiKeyStore, out io.Writer) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tSTATUS")
	for _, key := range keys {
		state := "active"
		if key.RevokedAt != nil {
			state = "revoked " + key.RevokedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", key.ID, key.Name, key.CreatedAt.UTC().Format(time.RFC3339), state)
	}
	return tw.Flush()
}
