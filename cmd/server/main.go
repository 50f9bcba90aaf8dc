package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/leviate/backend/internal/audit"
	"github.com/leviate/backend/internal/config"
	"github.com/leviate/backend/internal/database"
	"github.com/leviate/backend/internal/gateway"
	"github.com/leviate/backend/internal/handlers"
	mW "github.com/leviate/backend/internal/middleware"
	"github.com/leviate/backend/internal/notify"
	"github.com/leviate/backend/internal/services"
	"github.com/leviate/backend/internal/store"
	"github.com/spf13/viper"
)

// @title Leviate Wallet API
// @version 1.0
// @description Wallet ledger, bank accounts and OTP-gated withdrawals
// @BasePath /api/v1

func bindEnv() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("wallet.currency", "WALLET_CURRENCY")
	viper.BindEnv("wallet.min_withdrawal", "MIN_WITHDRAWAL_AMOUNT")
	viper.BindEnv("wallet.otp_length", "WITHDRAWAL_OTP_LENGTH")
	viper.BindEnv("wallet.otp_timeout", "WITHDRAWAL_OTP_TIMEOUT")
	viper.BindEnv("wallet.otp_hash_key", "WITHDRAWAL_OTP_HASH_KEY")
	viper.BindEnv("wallet.max_otp_requests", "WITHDRAWAL_OTP_MAX_REQUESTS")
	viper.BindEnv("wallet.otp_rate_limit_window", "WITHDRAWAL_OTP_RATE_WINDOW")
	viper.BindEnv("wallet.gateway_timeout", "GATEWAY_TIMEOUT")
	viper.BindEnv("wallet.bank_cache_ttl", "BANK_CACHE_TTL")
	viper.BindEnv("wallet.platform_fee_percent", "PLATFORM_FEE_PERCENTAGE")
	viper.BindEnv("wallet.referral_reward", "REFERRAL_REWARD_AMOUNT")
	viper.BindEnv("wallet.payout_queue_key", "PAYOUT_QUEUE_KEY")
	viper.BindEnv("wallet.payout_dead_letter_key", "PAYOUT_DEAD_LETTER_KEY")
	viper.BindEnv("wallet.payout_queue_buffer", "PAYOUT_QUEUE_BUFFER")

	viper.BindEnv("paystack.base_url", "PAYSTACK_BASE_URL")
	viper.BindEnv("paystack.secret_key", "PAYSTACK_SECRET_KEY")
	viper.BindEnv("paystack.country", "PAYSTACK_COUNTRY")

	viper.BindEnv("zeptomail.base_url", "ZEPTOMAIL_BASE_URL")
	viper.BindEnv("zeptomail.token", "ZEPTOMAIL_TOKEN")
	viper.BindEnv("zeptomail.from_address", "FROM_EMAIL")
	viper.BindEnv("zeptomail.from_name", "FROM_NAME")
	viper.BindEnv("zeptomail.bounce_address", "ZEPTOMAIL_BOUNCE_ADDRESS")
	viper.BindEnv("zeptomail.template_withdrawal_otp", "ZEPTOMAIL_TEMPLATE_WITHDRAWAL_OTP")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
}

func main() {
	verifyLedger := flag.Bool("verify-ledger", false, "run the ledger integrity check and exit")
	flag.Parse()

	bindEnv()

	walletConfig := config.LoadWalletConfig()
	jwtSecret := viper.GetString("jwt.secret_key")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET_KEY is required")
	}
	if walletConfig.OTPHashKey == "" {
		log.Fatal("WITHDRAWAL_OTP_HASH_KEY is required")
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditLog := audit.NewLogger()
	ledger := store.NewPostgresLedgerStore(db)
	wallet := services.NewWalletService(ledger, walletConfig, auditLog)

	if *verifyLedger {
		report, err := wallet.VerifyLedgerIntegrity(context.Background())
		if err != nil {
			log.Fatalf("Ledger integrity check failed to run: %v", err)
		}
		for _, violation := range report.Errors {
			log.Printf("[INTEGRITY] %s", violation)
		}
		log.Printf("Ledger integrity: valid=%v entries=%d violations=%d", report.Valid, report.EntriesChecked, len(report.Errors))
		if !report.Valid {
			os.Exit(1)
		}
		return
	}

	paystack := gateway.NewPaystackClient(config.LoadPaystackConfig(), walletConfig.GatewayTimeout)
	accounts := store.NewPostgresBankAccountStore(db)
	catalog := services.NewBankCatalog(paystack, redisClient, walletConfig.BankCacheTTL)
	bankAccounts := services.NewBankAccountService(accounts, paystack, catalog, walletConfig, auditLog)

	withdrawals := services.NewWithdrawalService(services.WithdrawalDeps{
		Wallet:   wallet,
		Banks:    bankAccounts,
		Accounts: accounts,
		Otps:     store.NewPostgresOtpStore(db),
		Users:    store.NewPostgresUserStore(db),
		Gateway:  paystack,
		Mailer:   notify.NewZeptoMailer(config.LoadEmailConfig(), walletConfig.OTPTimeout),
		Notifier: notify.NewSQLNotifier(db),
		Limiter:  services.NewOtpRateLimiter(redisClient, walletConfig.MaxOTPRequests, walletConfig.OTPRateLimitWindow),
		Audit:    auditLog,
		Config:   walletConfig,
	})

	var payoutQueue services.PayoutQueue
	if redisClient != nil {
		payoutQueue = services.NewRedisPayoutQueue(redisClient, walletConfig.PayoutQueueKey, walletConfig.PayoutDeadLetterKey)
	} else {
		log.Println("Redis unavailable, payouts are queued in memory")
		payoutQueue = services.NewChannelPayoutQueue(walletConfig.PayoutQueueBuffer)
	}
	payoutWorker := services.NewPayoutWorker(payoutQueue, wallet, walletConfig, auditLog)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := payoutWorker.Run(workerCtx); err != nil {
			log.Printf("Payout worker exited: %v", err)
		}
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				purged, err := withdrawals.PurgeExpiredOtps(workerCtx)
				if err != nil {
					log.Printf("OTP purge failed: %v", err)
				} else if purged > 0 {
					log.Printf("Purged %d expired withdrawal OTPs", purged)
				}
			}
		}
	}()

	router := &handlers.Router{
		Auth:        mW.NewAuthenticator(jwtSecret),
		Cache:       redisClient,
		Wallet:      handlers.NewWalletHandler(wallet),
		BankAccount: handlers.NewBankAccountHandler(bankAccounts),
		Withdrawal:  handlers.NewWithdrawalHandler(withdrawals),
		Payout:      handlers.NewPayoutHandler(payoutQueue),
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	stopWorkers()
	workers.Wait()
	log.Println("Server stopped")
}
