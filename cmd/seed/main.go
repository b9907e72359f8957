package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/teslabit/tradesim/internal/config"
	"github.com/teslabit/tradesim/internal/db"
	"github.com/teslabit/tradesim/internal/models"
)

type demoAccount struct {
	email    string
	name     string
	password string
	role     models.Role
	shares   int64
	bitcoin  string
}

// Pre-provisioned demo accounts. The admin starts with the platform custody
// wallet at 5.5 BTC.
var demoAccounts = []demoAccount{
	{"admin@tesla.com", "Admin User", "admin123", models.RoleAdmin, 0, "0"},
	{"user1@demo.com", "John Smith", "demo123", models.RoleUser, 45, "1.2345"},
	{"user2@demo.com", "Sarah Johnson", "demo123", models.RoleUser, 78, "2.5678"},
	{"user3@demo.com", "Mike Wilson", "demo123", models.RoleUser, 23, "0.8901"},
	{"user4@demo.com", "Emma Davis", "demo123", models.RoleUser, 156, "4.3210"},
}

const adminWalletSeed = "5.5"

// Seed the database with demo accounts. Safe to run repeatedly.
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var existing int
	err = database.Pool.QueryRow(ctx, "SELECT count(*) FROM users WHERE email LIKE '%@demo.com' OR email = 'admin@tesla.com'").Scan(&existing)
	if err != nil {
		log.Fatalf("Failed to check users: %v", err)
	}
	if existing > 0 {
		fmt.Printf("Database already has %d demo accounts. No need to seed.\n", existing)
		os.Exit(0)
	}

	for _, acct := range demoAccounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(acct.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash password for %s: %v", acct.email, err)
		}

		user, err := database.CreateUser(ctx, models.User{
			ID:           uuid.New(),
			Email:        acct.email,
			Name:         acct.name,
			Role:         acct.role,
			PasswordHash: string(hash),
		})
		if err != nil {
			log.Fatalf("Failed to create %s: %v", acct.email, err)
		}

		balance := decimal.RequireFromString(acct.bitcoin)
		if acct.shares > 0 || balance.IsPositive() {
			_, err = database.Pool.Exec(ctx,
				`UPDATE holdings SET tesla_shares = $2, bitcoin_balance = $3 WHERE user_id = $1`,
				user.ID, acct.shares, balance)
			if err != nil {
				log.Fatalf("Failed to seed holding for %s: %v", acct.email, err)
			}
		}
	}

	_, err = database.Pool.Exec(ctx,
		`UPDATE admin_wallet SET balance = $1 WHERE id = 1 AND balance = 0`,
		decimal.RequireFromString(adminWalletSeed))
	if err != nil {
		log.Fatalf("Failed to seed admin wallet: %v", err)
	}

	fmt.Println("Successfully seeded the database with demo accounts!")
}
