package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/clients/pinecone"
	"github.com/loomwell/handover-backend/internal/db"
	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/repos"
	"github.com/loomwell/handover-backend/internal/types"
	"github.com/loomwell/handover-backend/internal/utils"
	"github.com/loomwell/handover-backend/internal/vector"
)

const resetConfirmation = "yes-delete-everything"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err.Error())
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		err = runMigrate(log, pg)
	case "seed":
		err = runSeed(log, pg)
	case "reset":
		force := len(os.Args) > 2 && os.Args[2] == "--force"
		err = runReset(log, pg, force)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("Command failed", "command", os.Args[1], "error", err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: admin <migrate|seed|reset [--force]>")
}

func runMigrate(log *logger.Logger, pg *db.PostgresService) error {
	if err := pg.AutoMigrateAll(); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	if err := pg.EnsureIndices(); err != nil {
		return fmt.Errorf("ensure indices: %w", err)
	}
	log.Info("Migration complete")
	return nil
}

// runSeed creates the baseline tenant and its admin user; both are
// idempotent lookups first so re-running is safe.
func runSeed(log *logger.Logger, pg *db.PostgresService) error {
	ctx := context.Background()
	theDB := pg.DB()
	tenants := repos.NewTenantRepo(theDB, log)
	users := repos.NewUserRepo(theDB, log)

	slug := utils.GetEnv("SEED_TENANT_SLUG", "acme", log)
	name := utils.GetEnv("SEED_TENANT_NAME", "Acme Corp", log)
	plan := utils.GetEnv("SEED_TENANT_PLAN", types.PlanFree, log)
	email := strings.ToLower(utils.GetEnv("SEED_ADMIN_EMAIL", "admin@example.com", log))
	password := utils.GetEnv("SEED_ADMIN_PASSWORD", "", log)
	if password == "" {
		return fmt.Errorf("missing SEED_ADMIN_PASSWORD")
	}

	tenant, err := tenants.GetBySlug(ctx, nil, slug)
	if err != nil {
		tenant, err = tenants.Create(ctx, nil, &types.Tenant{Slug: slug, Name: name, Plan: plan})
		if err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		log.Info("Created tenant", "slug", slug, "tenant_id", tenant.ID.String())
	}

	if _, err := users.GetByEmail(ctx, nil, tenant.ID, email); err == nil {
		log.Info("Admin user already exists", "email", email)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user, err := users.Create(ctx, nil, &types.User{
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: string(hash),
		Role:         types.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	log.Info("Created admin user", "email", email, "user_id", user.ID.String())
	return nil
}

// runReset drops the schema and purges every tenant's vector namespace.
func runReset(log *logger.Logger, pg *db.PostgresService, force bool) error {
	if !force {
		fmt.Printf("This deletes ALL data. Type %q to continue: ", resetConfirmation)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != resetConfirmation {
			return fmt.Errorf("reset aborted")
		}
	}

	ctx := context.Background()
	tenants := repos.NewTenantRepo(pg.DB(), log)
	rows, err := tenants.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	// Vector purge is best effort: a missing Pinecone config should not
	// block wiping the relational side.
	if vec, err := wireVector(log); err != nil {
		log.Warn("Skipping vector purge", "error", err.Error())
	} else {
		for _, tenant := range rows {
			if err := vec.DeleteTenant(ctx, tenant.ID.String()); err != nil {
				log.Warn("Vector purge failed", "tenant_id", tenant.ID.String(), "error", err.Error())
			}
		}
	}

	if err := pg.DropAll(); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	log.Info("Reset complete", "tenants_purged", len(rows))
	return nil
}

func wireVector(log *logger.Logger) (vector.Service, error) {
	llm, err := openai.NewClient(log)
	if err != nil {
		return nil, err
	}
	pc, err := pinecone.New(log, pinecone.Config{APIKey: os.Getenv("PINECONE_API_KEY")})
	if err != nil {
		return nil, err
	}
	store, err := pinecone.NewVectorStore(log, pc)
	if err != nil {
		return nil, err
	}
	return vector.NewService(log, llm, store)
}
