package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// WalletConfig carries every tunable the wallet, withdrawal and payout
// services depend on. It is built once at startup and passed to constructors.
type WalletConfig struct {
	Currency            string
	MinWithdrawal       decimal.Decimal
	OTPLength           int
	OTPTimeout          time.Duration
	OTPHashKey          string
	MaxOTPRequests      int
	OTPRateLimitWindow  time.Duration
	GatewayTimeout      time.Duration
	BankCacheTTL        time.Duration
	PlatformFeePercent  decimal.Decimal
	ReferralReward      decimal.Decimal
	PayoutQueueKey      string
	PayoutDeadLetterKey string
	PayoutQueueBuffer   int
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

func LoadWalletConfig() *WalletConfig {
	viper.SetDefault("wallet.currency", "NGN")
	viper.SetDefault("wallet.min_withdrawal", "100")
	viper.SetDefault("wallet.otp_length", 6)
	viper.SetDefault("wallet.otp_timeout", 10*time.Minute)
	viper.SetDefault("wallet.otp_hash_key", "")
	viper.SetDefault("wallet.max_otp_requests", 5)
	viper.SetDefault("wallet.otp_rate_limit_window", time.Hour)
	viper.SetDefault("wallet.gateway_timeout", 15*time.Second)
	viper.SetDefault("wallet.bank_cache_ttl", 24*time.Hour)
	viper.SetDefault("wallet.platform_fee_percent", "5")
	viper.SetDefault("wallet.referral_reward", "100")
	viper.SetDefault("wallet.payout_queue_key", "wallet:payout_queue")
	viper.SetDefault("wallet.payout_dead_letter_key", "wallet:payout_dead_letter")
	viper.SetDefault("wallet.payout_queue_buffer", 256)

	return &WalletConfig{
		Currency:            viper.GetString("wallet.currency"),
		MinWithdrawal:       getDecimal("wallet.min_withdrawal", decimal.NewFromInt(100)),
		OTPLength:           viper.GetInt("wallet.otp_length"),
		OTPTimeout:          viper.GetDuration("wallet.otp_timeout"),
		OTPHashKey:          viper.GetString("wallet.otp_hash_key"),
		MaxOTPRequests:      viper.GetInt("wallet.max_otp_requests"),
		OTPRateLimitWindow:  viper.GetDuration("wallet.otp_rate_limit_window"),
		GatewayTimeout:      viper.GetDuration("wallet.gateway_timeout"),
		BankCacheTTL:        viper.GetDuration("wallet.bank_cache_ttl"),
		PlatformFeePercent:  getDecimal("wallet.platform_fee_percent", decimal.NewFromInt(5)),
		ReferralReward:      getDecimal("wallet.referral_reward", decimal.NewFromInt(100)),
		PayoutQueueKey:      viper.GetString("wallet.payout_queue_key"),
		PayoutDeadLetterKey: viper.GetString("wallet.payout_dead_letter_key"),
		PayoutQueueBuffer:   viper.GetInt("wallet.payout_queue_buffer"),
		HistoryDefaultLimit: 50,
		HistoryMaxLimit:     100,
	}
}

// DefaultWalletConfig returns the built-in defaults without touching viper.
func DefaultWalletConfig() *WalletConfig {
	return &WalletConfig{
		Currency:            "NGN",
		MinWithdrawal:       decimal.NewFromInt(100),
		OTPLength:           6,
		OTPTimeout:          10 * time.Minute,
		MaxOTPRequests:      5,
		OTPRateLimitWindow:  time.Hour,
		GatewayTimeout:      15 * time.Second,
		BankCacheTTL:        24 * time.Hour,
		PlatformFeePercent:  decimal.NewFromInt(5),
		ReferralReward:      decimal.NewFromInt(100),
		PayoutQueueKey:      "wallet:payout_queue",
		PayoutDeadLetterKey: "wallet:payout_dead_letter",
		PayoutQueueBuffer:   256,
		HistoryDefaultLimit: 50,
		HistoryMaxLimit:     100,
	}
}

type PaystackConfig struct {
	BaseURL   string
	SecretKey string
	Country   string
}

func LoadPaystackConfig() *PaystackConfig {
	viper.SetDefault("paystack.base_url", "https://api.paystack.co")
	viper.SetDefault("paystack.country", "nigeria")

	return &PaystackConfig{
		BaseURL:   viper.GetString("paystack.base_url"),
		SecretKey: viper.GetString("paystack.secret_key"),
		Country:   viper.GetString("paystack.country"),
	}
}

type EmailConfig struct {
	BaseURL               string
	Token                 string
	FromAddress           string
	FromName              string
	BounceAddress         string
	WithdrawalOTPTemplate string
}

func LoadEmailConfig() *EmailConfig {
	viper.SetDefault("zeptomail.base_url", "https://api.zeptomail.com")
	viper.SetDefault("zeptomail.from_address", "noreply@leviate.app")
	viper.SetDefault("zeptomail.from_name", "Leviate")

	return &EmailConfig{
		BaseURL:               viper.GetString("zeptomail.base_url"),
		Token:                 viper.GetString("zeptomail.token"),
		FromAddress:           viper.GetString("zeptomail.from_address"),
		FromName:              viper.GetString("zeptomail.from_name"),
		BounceAddress:         viper.GetString("zeptomail.bounce_address"),
		WithdrawalOTPTemplate: viper.GetString("zeptomail.template_withdrawal_otp"),
	}
}

func getDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := viper.GetString(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}
