// Command bootstrap-admin-key creates or revokes admin console API keys.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/salesboost/exitintent/internal/auth"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/repository"
)

type output struct {
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
}

type keyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	RevokeAPIKey(ctx context.Context, id string) error
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		name        = flag.String("name", "bootstrap", "API key name")
		scopesInput = flag.String("scopes", model.ScopeAdmin, "Comma-separated scopes (settings:read,admin)")
		format      = flag.String("format", "plain", "Output format: plain or json")
		env         = flag.String("env", auth.EnvLive, "Key environment marker: live or test")
		revoke      = flag.String("revoke", "", "Revoke the key with this id instead of creating one")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	if *revoke != "" {
		if err := revokeKey(ctx, repo, *revoke); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		// Cached auth contexts stay valid for up to five minutes.
		fmt.Fprintf(os.Stdout, "revoked %s\n", *revoke)
		return
	}

	scopes, err := parseScopes(*scopesInput)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	out, err := createKey(ctx, repo, *name, *env, scopes, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := render(os.Stdout, out, *format); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func createKey(ctx context.Context, store keyStore, name, env string, scopes []string, now time.Time) (*output, error) {
	if env != auth.EnvLive && env != auth.EnvTest {
		return nil, fmt.Errorf("invalid env %q; use live or test", env)
	}

	generated, err := auth.GenerateAPIKey(env)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	key := &model.APIKey{
		ID:        ulid.Make().String(),
		Name:      name,
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		Scopes:    scopes,
		CreatedAt: now,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	return &output{
		KeyID:     key.ID,
		Key:       generated.Plaintext,
		KeyPrefix: key.KeyPrefix,
		Name:      key.Name,
		Scopes:    scopes,
	}, nil
}

func revokeKey(ctx context.Context, store keyStore, id string) error {
	err := store.RevokeAPIKey(ctx, id)
	if errors.Is(err, repository.ErrAPIKeyNotFound) {
		return fmt.Errorf("no active key with id %s", id)
	}
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

func render(w io.Writer, out *output, format string) error {
	switch strings.ToLower(format) {
	case "plain":
		_, err := fmt.Fprintln(w, out.Key)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return errors.New("invalid format; use plain or json")
	}
}

func parseScopes(input string) ([]string, error) {
	parts := strings.Split(input, ",")
	scopes := make([]string, 0, len(parts))
	for _, part := range parts {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if !model.IsValidScope(scope) {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		scopes = []string{model.ScopeAdmin}
	}
	return scopes, nil
}
