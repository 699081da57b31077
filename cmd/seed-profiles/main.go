// Command seed-profiles loads profile documents from a YAML file into the
// profile store, for local development and demos.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	"github.com/R3E-Network/wallet_dashboard/internal/config"
	"github.com/R3E-Network/wallet_dashboard/internal/storage"
	"github.com/R3E-Network/wallet_dashboard/internal/storage/postgres"
	supastore "github.com/R3E-Network/wallet_dashboard/internal/storage/supabase"
	"github.com/R3E-Network/wallet_dashboard/supabase/client"
)

type seedFile struct {
	Profiles []seedProfile `yaml:"profiles"`
}

type seedProfile struct {
	UID             string   `yaml:"uid"`
	Email           string   `yaml:"email"`
	DisplayName     string   `yaml:"display_name"`
	PhotoURL        string   `yaml:"photo_url"`
	WalletAddresses []string `yaml:"wallet_addresses"`
}

func main() {
	var (
		envFile  = flag.String("env", ".env", "Path to .env with DATABASE_URL or IDENTITY_* and SERVICE_ROLE_KEY")
		seedPath = flag.String("file", "config/profiles.seed.yaml", "YAML file with a top-level profiles list")
		dryRun   = flag.Bool("dry-run", false, "Validate the file without writing")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	profiles, err := readSeed(*seedPath)
	if err != nil {
		log.Fatalf("read seed file: %v", err)
	}
	if *dryRun {
		fmt.Printf("%d profiles valid in %s\n", len(profiles), *seedPath)
		return
	}

	store, closeStore, err := openStore(ctx)
	if err != nil {
		log.Fatalf("open profile store: %v", err)
	}
	defer closeStore()

	for _, p := range profiles {
		if err := store.SetProfile(ctx, p); err != nil {
			log.Fatalf("seed profile %s: %v", p.UID, err)
		}
	}
	fmt.Printf("Seeded %d profiles from %s\n", len(profiles), *seedPath)
}

func readSeed(path string) ([]storage.Profile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return toProfiles(file.Profiles, time.Now().UTC())
}

func toProfiles(seeds []seedProfile, now time.Time) ([]storage.Profile, error) {
	seen := make(map[string]bool, len(seeds))
	out := make([]storage.Profile, 0, len(seeds))
	for i, s := range seeds {
		uid := strings.TrimSpace(s.UID)
		if uid == "" {
			return nil, fmt.Errorf("profile %d: uid is required", i)
		}
		if seen[uid] {
			return nil, fmt.Errorf("profile %d: duplicate uid %s", i, uid)
		}
		seen[uid] = true

		addresses := make([]string, 0, len(s.WalletAddresses))
		known := make(map[string]bool)
		for _, a := range s.WalletAddresses {
			if !chain.IsAddress(a) {
				return nil, fmt.Errorf("profile %s: invalid wallet address %q", uid, a)
			}
			a = chain.NormalizeAddress(a)
			if !known[a] {
				known[a] = true
				addresses = append(addresses, a)
			}
		}
		out = append(out, storage.Profile{
			UID:             uid,
			Email:           strings.TrimSpace(s.Email),
			DisplayName:     strings.TrimSpace(s.DisplayName),
			PhotoURL:        strings.TrimSpace(s.PhotoURL),
			WalletAddresses: addresses,
			CreatedAt:       now,
		})
	}
	return out, nil
}

// openStore prefers DATABASE_URL; otherwise it writes through the document
// API with the service role key.
func openStore(ctx context.Context) (storage.ProfileStore, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.New(db), func() { db.Close() }, nil
	}

	serviceRole := os.Getenv("SERVICE_ROLE_KEY")
	if serviceRole == "" {
		return nil, nil, fmt.Errorf("set DATABASE_URL, or SERVICE_ROLE_KEY with IDENTITY_AUTH_DOMAIN")
	}
	identity := config.IdentityConfig{AuthDomain: os.Getenv("IDENTITY_AUTH_DOMAIN")}
	c, err := client.New(client.Config{URL: identity.BaseURL(), APIKey: serviceRole, ClientInfo: "wallet-dashboard-seed/1.0"})
	if err != nil {
		return nil, nil, err
	}
	return supastore.New(c, func(context.Context) string { return serviceRole }), func() {}, nil
}
