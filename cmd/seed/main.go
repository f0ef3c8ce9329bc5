package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"notehub/internal/auth"
	"notehub/internal/config"
	"notehub/internal/domain/models"
	"notehub/internal/repository/postgres"
)

// sampleSubjects is the catalog every dev database starts with
var sampleSubjects = []struct {
	ID   string
	Name string
}{
	{ID: "general", Name: "General"},
	{ID: "linear-algebra", Name: "Linear Algebra"},
	{ID: "organic-chemistry", Name: "Organic Chemistry"},
	{ID: "distributed-systems", Name: "Distributed Systems"},
}

// devUsers are created through the Supabase admin API when a service key is set
var devUsers = []struct {
	Email string
	Role  string
}{
	{Email: "admin@notehub.test", Role: models.RoleAdmin},
	{Email: "trusted@notehub.test", Role: models.RolePrivileged},
	{Email: "author@notehub.test", Role: models.RoleMember},
}

const devPassword = "notehub-dev-password"

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed subjects or users")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("🚫 BLOCKED: Cannot run --drop-tables in production environment")
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is not set")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *schemaOnly {
		log.Printf("🏗️  Setting up schema only (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	} else {
		log.Printf("🌱 Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Println("🗑️  Dropping all tables...")
		if err := postgres.DropSchema(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✅ Tables dropped")
	}

	log.Println("📋 Ensuring database schema is up to date...")
	txManager := postgres.NewTransactionManager(pool, logger)
	if err := postgres.EnsureSchema(ctx, pool, txManager, tables); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("✅ Schema ready")

	if *schemaOnly {
		return
	}

	repoConfig := &postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger}

	taxonomy := postgres.NewTaxonomyStore(repoConfig)
	for _, subject := range sampleSubjects {
		if err := taxonomy.AddSubject(ctx, subject.ID, subject.Name); err != nil {
			log.Fatalf("Failed to add subject %s: %v", subject.ID, err)
		}
	}
	log.Printf("📚 %d subjects ready", len(sampleSubjects))

	if cfg.SupabaseKey == "" {
		log.Println("ℹ️  SUPABASE_KEY not set, skipping dev users")
		return
	}

	admin := auth.NewAdminClient(cfg.SupabaseURL, cfg.SupabaseKey)
	profiles := postgres.NewProfileDirectory(repoConfig)
	for _, u := range devUsers {
		userID, err := admin.EnsureUser(ctx, u.Email, devPassword)
		if err != nil {
			log.Fatalf("Failed to create user %s: %v", u.Email, err)
		}
		if err := profiles.SetRole(ctx, userID, u.Role); err != nil {
			log.Fatalf("Failed to set role for %s: %v", u.Email, err)
		}
		log.Printf("👤 %s (%s) -> %s", u.Email, u.Role, userID)
	}

	log.Println("✅ Seed complete")
}
