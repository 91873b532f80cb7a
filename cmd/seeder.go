package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample bands, members and roles for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlxDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlxDB.Close()

		db, err := initGorm(sqlxDB)
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if clearData {
			for _, table := range []string{"payment_receipts", "donations", "recurring_donations", "manual_payments", "band_members", "bands", "users"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear table %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		password := "password"
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

		users := []struct {
			Email string
			Name  string
		}{
			{"tari@mail.com", "Tari Treasurer"},
			{"gita@mail.com", "Gita Governance"},
			{"mira@mail.com", "Mira Member"},
			{"dodi@mail.com", "Dodi Donor"},
		}

		userIDs := make(map[string]int64, len(users))
		for _, u := range users {
			var id int64
			row := db.Raw("SELECT id FROM users WHERE email = ?", u.Email).Row()
			if err := row.Scan(&id); err == nil {
				fmt.Println("user already exists:", u.Email)
				userIDs[u.Email] = id
				continue
			}

			if err := db.Exec("INSERT INTO users (email, name, password_hash, is_active, created_at, updated_at) VALUES (?, ?, ?, true, now(), now())", u.Email, u.Name, string(hash)).Error; err != nil {
				log.Fatalf("failed to insert user %s: %v", u.Email, err)
			}
			if err := db.Raw("SELECT id FROM users WHERE email = ?", u.Email).Row().Scan(&id); err != nil {
				log.Fatalf("failed to lookup user id for %s: %v", u.Email, err)
			}
			userIDs[u.Email] = id
			fmt.Println("Seeded user:", u.Email)
		}

		bandName := "The Settled Chords"
		var bandID int64
		if err := db.Raw("SELECT id FROM bands WHERE name = ?", bandName).Row().Scan(&bandID); err != nil {
			if err := db.Exec("INSERT INTO bands (name, created_at) VALUES (?, now())", bandName).Error; err != nil {
				log.Fatalf("failed to insert band: %v", err)
			}
			if err := db.Raw("SELECT id FROM bands WHERE name = ?", bandName).Row().Scan(&bandID); err != nil {
				log.Fatalf("failed to lookup band id: %v", err)
			}
			fmt.Println("Seeded band:", bandName)
		}

		memberships := []struct {
			Email string
			Role  string
		}{
			{"tari@mail.com", "TREASURER"},
			{"gita@mail.com", "GOVERNANCE"},
			{"mira@mail.com", "MEMBER"},
			{"dodi@mail.com", "MEMBER"},
		}

		for _, m := range memberships {
			userID := userIDs[m.Email]
			var exists int
			if err := db.Raw("SELECT 1 FROM band_members WHERE band_id = ? AND user_id = ?", bandID, userID).Row().Scan(&exists); err == nil {
				continue
			}
			if err := db.Exec("INSERT INTO band_members (band_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, true, now())", bandID, userID, m.Role).Error; err != nil {
				log.Fatalf("failed to insert membership for %s: %v", m.Email, err)
			}
			fmt.Printf("Seeded membership: %s as %s\n", m.Email, m.Role)
		}

		// mint dev tokens when a private key is configured, so seeded users
		// can be exercised against the API without the identity service
		if cfg.Security.JWTPrivateKey != "" {
			privateKey, err := cfg.Security.GetPrivateKey()
			if err != nil {
				log.Fatalf("failed to load JWT private key: %v", err)
			}

			for _, u := range users {
				claims := jwt.RegisteredClaims{
					Subject:   fmt.Sprintf("%d", userIDs[u.Email]),
					IssuedAt:  jwt.NewNumericDate(time.Now()),
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
				}
				token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
				if err != nil {
					log.Fatalf("failed to mint dev token for %s: %v", u.Email, err)
				}
				fmt.Printf("Dev token for %s:\n%s\n", u.Email, token)
			}
		}

		fmt.Println("Seeding complete for band:", bandName)
	},
}
