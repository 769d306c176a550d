// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"org-security-engine/internal/config"
	"org-security-engine/internal/db"
	identitydomain "org-security-engine/internal/identity/domain"
	identityrepo "org-security-engine/internal/identity/repository"
	membershipdomain "org-security-engine/internal/membership/domain"
	membershiprepo "org-security-engine/internal/membership/repository"
	organizationdomain "org-security-engine/internal/organization/domain"
	organizationrepo "org-security-engine/internal/organization/repository"
	"org-security-engine/internal/security"
)

const (
	devUserEmail    = "dev@example.com"
	memberUserEmail = "member@example.com"
	devPassword     = "password123"
	devOrgName      = "Dev Org"
	devOrgSlug      = "dev-org"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" {
		fmt.Fprintln(os.Stderr, "seed: refusing to run in production")
		os.Exit(1)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := identityrepo.NewPostgresRepository(database)
	if existing, err := users.GetByEmail(ctx, devUserEmail); err != nil {
		log.Fatalf("check dev user: %v", err)
	} else if existing != nil {
		log.Println("seed: dev user already exists, nothing to do")
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash(devPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	owner := &identitydomain.User{
		ID: uuid.New().String(), Email: devUserEmail, PasswordHash: hash,
		Name: "Dev Owner", Status: identitydomain.UserStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
	member := &identitydomain.User{
		ID: uuid.New().String(), Email: memberUserEmail, PasswordHash: hash,
		Name: "Dev Member", Status: identitydomain.UserStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
	for _, u := range []*identitydomain.User{owner, member} {
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create user %s: %v", u.Email, err)
		}
	}

	orgID := uuid.New().String()
	orgs := organizationrepo.NewPostgresRepository(database)
	if err := orgs.Create(ctx, &organizationdomain.Org{
		ID: orgID, Name: devOrgName, Slug: devOrgSlug,
		Status:    organizationdomain.OrgStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		log.Fatalf("create org: %v", err)
	}

	memberships := membershiprepo.NewPostgresRepository(database)
	seedMemberships := []*membershipdomain.Membership{
		{
			ID: uuid.New().String(), UserID: owner.ID, OrgID: orgID,
			Role:         membershipdomain.RoleOwner,
			Capabilities: membershipdomain.DefaultCapabilities(membershipdomain.RoleOwner),
			Status:       membershipdomain.StatusActive,
			CreatedAt:    now, UpdatedAt: now,
		},
		{
			ID: uuid.New().String(), UserID: member.ID, OrgID: orgID,
			Role:         membershipdomain.RoleMember,
			Capabilities: membershipdomain.DefaultCapabilities(membershipdomain.RoleMember),
			Status:       membershipdomain.StatusActive,
			CreatedAt:    now, UpdatedAt: now,
		},
	}
	for _, m := range seedMemberships {
		if err := memberships.Create(ctx, m); err != nil {
			log.Fatalf("create membership: %v", err)
		}
	}

	log.Printf("seed: created %s (owner) and %s (member) in org %s, password %q",
		devUserEmail, memberUserEmail, devOrgSlug, devPassword)
}
