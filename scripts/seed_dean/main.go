// Command seed_dean bootstraps the first dean account. Account creation is
// dean-only over the API, so a fresh database needs one seeded out of band.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/repository"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	"github.com/LilT0ny/BlindCheckSystem/pkg/config"
	"github.com/LilT0ny/BlindCheckSystem/pkg/database"
)

func main() {
	var (
		email    string
		fullName string
		password string
		timeout  time.Duration
	)

	flag.StringVar(&email, "email", "", "dean email address")
	flag.StringVar(&fullName, "name", "", "dean full name")
	flag.StringVar(&password, "password", "", "initial password (the dean is forced to change it)")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "database timeout")
	flag.Parse()

	if email == "" || fullName == "" || password == "" {
		log.Fatal("usage: seed_dean -email <email> -name <name> -password <password>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	piiVault, err := vault.New(cfg.Vault.EncryptionSecret)
	if err != nil {
		log.Fatalf("failed to init identity vault: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	accounts := repository.NewAccountRepository(db)
	if existing, err := accounts.FindByEmailHash(ctx, vault.LookupHash(email)); err == nil {
		log.Fatalf("an account with that email already exists: %s", existing.ID)
	}

	emailEnc, err := piiVault.Encrypt(email)
	if err != nil {
		log.Fatalf("failed to encrypt email: %v", err)
	}
	nameEnc, err := piiVault.Encrypt(fullName)
	if err != nil {
		log.Fatalf("failed to encrypt name: %v", err)
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:                  uuid.NewString(),
		Role:                models.RoleDean,
		EmailEnc:            emailEnc,
		EmailHash:           vault.LookupHash(email),
		FullNameEnc:         nameEnc,
		PasswordHash:        string(passwordHash),
		Active:              true,
		ForcePasswordChange: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := accounts.Create(ctx, account); err != nil {
		log.Fatalf("failed to create dean account: %v", err)
	}

	fmt.Printf("dean account created: %s\n", account.ID)
}
