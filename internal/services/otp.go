package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/blake2b"
)

var otpFormat = regexp.MustCompile(`^[0-9]+$`)

// OtpCodec generates withdrawal codes and derives the keyed hash stored in
// place of the code. The hash binds the code to its user.
type OtpCodec struct {
	length int
	key    [32]byte
}

func NewOtpCodec(length int, secret string) *OtpCodec {
	return &OtpCodec{length: length, key: blake2b.Sum256([]byte(secret))}
}

func (c *OtpCodec) Generate() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", c.length, n), nil
}

func (c *OtpCodec) Hash(userID, code string) string {
	h, _ := blake2b.New256(c.key[:])
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *OtpCodec) ValidFormat(code string) bool {
	return len(code) == c.length && otpFormat.MatchString(code)
}

// OtpRateLimiter caps OTP issuance per user per window. Without redis it
// allows everything.
type OtpRateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewOtpRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *OtpRateLimiter {
	return &OtpRateLimiter{redis: redisClient, limit: limit, window: window}
}

func rateLimitKey(userID string) string {
	return fmt.Sprintf("withdrawal_otp:ratelimit:%s", userID)
}

// Allow counts the request against the user's window and rejects it once the
// count passes the limit. The INCR both counts and checks, so concurrent
// requests cannot all pass before any of them is recorded.
func (l *OtpRateLimiter) Allow(ctx context.Context, userID string) error {
	if l == nil || l.redis == nil || l.limit <= 0 {
		return nil
	}

	key := rateLimitKey(userID)
	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[WITHDRAWAL] Rate limit update failed for user %s: %v", userID, err)
		return nil
	}
	if incr.Val() > int64(l.limit) {
		return ErrTooManyOtpRequests
	}
	return nil
}
