// Package app wires repositories, the blob store and services from
// configuration. The server and the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
	"notehub/internal/blobstore"
	"notehub/internal/blobstore/drive"
	memblob "notehub/internal/blobstore/memory"
	"notehub/internal/blobstore/s3"
	"notehub/internal/config"
	"notehub/internal/credentials"
	"notehub/internal/domain/repositories"
	"notehub/internal/domain/services"
	"notehub/internal/preprocess"
	"notehub/internal/repository/memory"
	"notehub/internal/repository/postgres"
	"notehub/internal/service/identity"
	"notehub/internal/service/notes"
	"notehub/internal/service/reaper"
)

// DriveProvider is the credential store key of the drive backend
const DriveProvider = "drive"

// Repositories groups the storage layer
type Repositories struct {
	Notes       repositories.NoteRepository
	Credentials repositories.CredentialRepository
	Identity    services.IdentityDirectory
	Taxonomy    services.TaxonomyStore
	Social      services.SocialStore
}

// App holds the wired components
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Pool          *pgxpool.Pool // nil when running on memory repositories
	Tables        *postgres.TableNames
	TxManager     repositories.TransactionManager
	Repos         Repositories
	Credentials   *credentials.Manager // nil unless the drive backend is used
	Blobs         *blobstore.Store
	IdentityCache *identity.Cache
	Notes         services.NoteService
	Moderation    services.ModerationService
	Reaper        *reaper.Chore
}

// New builds the application. reg receives the metrics; nil uses the
// default registerer.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if err := a.setupRepositories(ctx); err != nil {
		return nil, err
	}

	backend, err := a.setupBackend()
	if err != nil {
		a.Close()
		return nil, err
	}

	observer, err := blobstore.NewPrometheusObserver("", reg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Blobs = blobstore.New(backend, logger, blobstore.Options{Observer: observer})

	registry, err := preprocess.NewRegistry(logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("preprocess registry: %w", err)
	}

	a.IdentityCache = identity.NewCache(a.Repos.Identity, 0, 0)
	a.Notes = notes.NewNoteService(notes.Deps{
		Notes:        a.Repos.Notes,
		Blobs:        a.Blobs,
		Preprocessor: registry,
		Identity:     a.IdentityCache,
		Taxonomy:     a.Repos.Taxonomy,
		Social:       a.Repos.Social,
		Logger:       logger,
	}, notes.Options{
		RetentionWindow:        cfg.Reaper.RetentionWindow,
		CompressThresholdBytes: cfg.CompressThresholdBytes,
	})
	a.Moderation = notes.NewModerationService(a.Repos.Notes, a.IdentityCache, logger)

	reaperMetrics, err := reaper.NewMetrics("", reg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Reaper = reaper.NewChore(logger.With("component", "reaper"), reaper.FromConfig(cfg.Reaper),
		a.Repos.Notes, a.Blobs, reaperMetrics)

	logger.Info("services initialized",
		"blob_backend", backend.Name(),
		"database", a.Pool != nil,
	)
	return a, nil
}

func (a *App) setupRepositories(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		if a.Config.Environment == "prod" {
			return fmt.Errorf("DATABASE_URL is required in prod")
		}
		a.Logger.Warn("DATABASE_URL not set, using in-memory repositories")
		a.Repos = Repositories{
			Notes:       memory.NewNoteRepository(),
			Credentials: memory.NewCredentialRepository(),
			Identity:    memory.NewDirectory(),
			Taxonomy:    memory.NewTaxonomy(a.Config.DevSubjectIDs...),
			Social:      memory.NewSocial(),
		}
		return nil
	}

	pool, err := postgres.CreateConnectionPool(ctx, a.Config.DatabaseURL)
	if err != nil {
		return err
	}
	a.Pool = pool
	a.Tables = postgres.NewTableNames(a.Config.TablePrefix)
	a.TxManager = postgres.NewTransactionManager(pool, a.Logger)

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: a.Tables,
		Logger: a.Logger,
	}
	a.Repos = Repositories{
		Notes:       postgres.NewNoteRepository(repoConfig),
		Credentials: postgres.NewCredentialRepository(repoConfig),
		Identity:    postgres.NewProfileDirectory(repoConfig),
		Taxonomy:    postgres.NewTaxonomyStore(repoConfig),
		Social:      postgres.NewSocialStore(repoConfig),
	}

	a.Logger.Info("database connected", "table_prefix", a.Config.TablePrefix)
	return nil
}

func (a *App) setupBackend() (blobstore.Backend, error) {
	switch a.Config.BlobBackend {
	case "memory":
		return memblob.New(""), nil
	case "s3":
		return s3.New(s3.Config{
			Endpoint:      a.Config.S3.Endpoint,
			Bucket:        a.Config.S3.Bucket,
			AccessKey:     a.Config.S3.AccessKey,
			SecretKey:     a.Config.S3.SecretKey,
			UseSSL:        a.Config.S3.UseSSL,
			PublicBaseURL: a.Config.S3.PublicBaseURL,
		})
	case "drive":
		a.Credentials = NewCredentialManager(a.Config, a.Repos.Credentials, a.Logger)
		return drive.New(drive.Config{
			APIBaseURL:    a.Config.Drive.APIBaseURL,
			UploadBaseURL: a.Config.Drive.UploadURL,
			FolderID:      a.Config.Drive.FolderID,
		}, a.Credentials, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", a.Config.BlobBackend)
	}
}

// NewCredentialManager builds the drive OAuth credential manager
func NewCredentialManager(cfg *config.Config, store repositories.CredentialRepository, logger *slog.Logger) *credentials.Manager {
	return credentials.NewManager(credentials.Config{
		OAuth: &oauth2.Config{
			ClientID:     cfg.Drive.ClientID,
			ClientSecret: cfg.Drive.ClientSecret,
			RedirectURL:  cfg.Drive.RedirectURL,
			Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Drive.AuthURL,
				TokenURL: cfg.Drive.TokenURL,
			},
		},
		Provider:     DriveProvider,
		RefreshToken: cfg.Drive.RefreshToken,
	}, store, logger)
}

// Close releases the database pool
func (a *App) Close() {
	if a.Reaper != nil {
		a.Reaper.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
