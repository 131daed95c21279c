// Package app wires configuration into a ready handler for both entrypoints.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"intake-agent/handler"
	"intake-agent/internal/config"
	"intake-agent/internal/integrations/paramstore"
	"intake-agent/internal/intake"
	"intake-agent/internal/notes"
	"intake-agent/internal/provider"
	"intake-agent/internal/repository"
	"intake-agent/internal/repository/sqlstore"
	"intake-agent/internal/usecase"
)

// SetupLogger installs a JSON slog handler at the configured level.
func SetupLogger(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
}

// Build constructs the store, provider and services described by cfg. The
// returned cleanup releases the store.
func Build(ctx context.Context, cfg config.Config) (*handler.Handler, func(), error) {
	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	store, cleanup, err := openStore(ctx, cfg.Store, loadAWS)
	if err != nil {
		return nil, nil, err
	}

	var getter paramstore.Getter
	if cfg.Provider.APIKeyParam != "" {
		c, err := loadAWS()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		getter = ssmClient
	}

	h, err := buildHandler(cfg, store, provider.New(cfg.Provider, getter))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return h, cleanup, nil
}

func openStore(ctx context.Context, sc config.StoreConfig, loadAWS func() (aws.Config, error)) (repository.ReadWriter, func(), error) {
	switch sc.Backend {
	case config.StoreDynamoDB:
		c, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		client, err := repository.New(awsdynamodb.NewFromConfig(c), sc.StateTable)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	case config.StoreSQLite, config.StorePostgres:
		s, err := sqlstore.Open(ctx, sqlstore.Dialect(sc.Backend), sc.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn("failed to close store", "err", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("app: unsupported store backend %q", sc.Backend)
	}
}

func buildHandler(cfg config.Config, store repository.ReadWriter, p provider.Provider) (*handler.Handler, error) {
	if u, ok := p.(*provider.Unavailable); ok {
		slog.Warn("AI provider is not usable; follow-ups will fail until configuration is fixed",
			"provider", p.Name(), "err", u.Err())
	}

	policy, err := intake.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	storage, err := notes.NewLocalStorage(cfg.NotesDir)
	if err != nil {
		return nil, err
	}

	controller, err := usecase.NewIntakeController(store, policy, p)
	if err != nil {
		return nil, err
	}
	conversations, err := usecase.NewConversationService(store, controller, cfg.MaxMessageLength)
	if err != nil {
		return nil, err
	}
	noteService, err := usecase.NewNoteService(store, notes.NewGenerator(), storage)
	if err != nil {
		return nil, err
	}
	diagnostics, err := usecase.NewDiagnostics(cfg.Provider, p)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(conversations, controller, noteService, diagnostics)
}
