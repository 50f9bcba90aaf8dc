package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	mW "github.com/leviate/backend/internal/middleware"
)

type Router struct {
	Auth        *mW.Authenticator
	Cache       *redis.Client
	Wallet      *WalletHandler
	BankAccount *BankAccountHandler
	Withdrawal  *WithdrawalHandler
	Payout      *PayoutHandler
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mW.IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Link", mW.IdempotentReplayedHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/banks", rt.BankAccount.ListBanks)

		r.Group(func(r chi.Router) {
			r.Use(rt.Auth.Middleware)
			idempotent := mW.Idempotency(rt.Cache, 24*time.Hour)

			r.Get("/wallet/balance", rt.Wallet.Balance)
			r.Get("/wallet/statistics", rt.Wallet.Statistics)
			r.Get("/wallet/transactions", rt.Wallet.Transactions)
			r.With(idempotent).Post("/wallet/transfer", rt.Wallet.Transfer)

			r.Get("/banks/resolve", rt.BankAccount.ResolveAccount)
			r.Get("/bank-accounts", rt.BankAccount.List)
			r.Post("/bank-accounts", rt.BankAccount.Add)
			r.Put("/bank-accounts/{id}/default", rt.BankAccount.SetDefault)
			r.Delete("/bank-accounts/{id}", rt.BankAccount.Delete)

			r.Post("/withdrawals/otp", rt.Withdrawal.RequestOtp)
			r.With(idempotent).Post("/withdrawals/verify", rt.Withdrawal.Verify)
			r.Get("/withdrawals/{reference}/status", rt.Withdrawal.Status)

			r.With(mW.RequireRole(mW.RoleAdmin)).Get("/admin/ledger/integrity", rt.Wallet.LedgerIntegrity)
			r.With(mW.RequireRole(mW.RoleSystem), idempotent).Post("/internal/payouts", rt.Payout.Enqueue)
		})
	})

	return r
}
