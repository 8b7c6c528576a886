package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/utils"
	"github.com/parkmy/slot-reservation-backend/pkg/jwt"
)

func main() {
	devToken := flag.Bool("dev-token", false, "also print a driver access token signed with the new secret")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the dev token")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for ParkMy Reservations")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate JWT secret: %v", err)
	}

	adminKey, adminKeyHash, err := utils.GenerateAdminKey()
	if err != nil {
		log.Fatalf("Failed to generate admin key: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("ADMIN_API_KEY_HASH='%s'\n", adminKeyHash)
	fmt.Println()
	fmt.Println("Send this key in the X-Admin-Key header (it is not stored anywhere):")
	fmt.Printf("  %s\n", adminKey)

	if *devToken {
		userID := uuid.New()
		token, err := jwt.NewService(jwtSecret, *tokenTTL).GenerateAccessToken(userID, "dev@parkmy.local", []string{"driver"})
		if err != nil {
			log.Fatalf("Failed to sign dev token: %v", err)
		}
		fmt.Println()
		fmt.Printf("Dev access token for user %s (valid %s):\n", userID, *tokenTTL)
		fmt.Printf("  %s\n", token)
	}

	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
