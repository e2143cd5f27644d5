package main

import (
	"context"
	"log"
	"os"

	"crowdprop/internal/db"
	"crowdprop/internal/domain"
	"crowdprop/internal/repository"
	"crowdprop/internal/service"
)

func main() {
	// expects DATABASE_URL env var
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL not set")
	}

	pool := db.Connect(dsn)
	defer pool.Close()

	users := repository.NewUserRepository(pool)
	wallets := repository.NewWalletRepository(pool)
	ctx := context.Background()

	u := &domain.User{
		Email:    "tester@example.com",
		Currency: domain.CurrencyTND,
	}
	if err := users.Create(ctx, u); err != nil {
		log.Fatalf("create user failed: %v", err)
	}
	log.Printf("user created id=%d\n", u.ID)

	code, err := users.GetOrCreateReferralCode(ctx, u.ID)
	if err != nil {
		log.Fatalf("issue referral code failed: %v", err)
	}
	log.Printf("referral code=%s\n", code)

	w, err := wallets.GetOrCreate(ctx, u.ID)
	if err != nil {
		log.Fatalf("create wallet failed: %v", err)
	}
	log.Printf("wallet id=%d currency=%s\n", w.ID, w.Currency)

	// initialize JWT and print token
	service.InitJWT()
	token, err := service.GenerateJWT(u.ID)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}
	log.Printf("token=%s\n", token)
}
