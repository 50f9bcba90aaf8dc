package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/leviate/backend/internal/models"
)

const bankCatalogKey = "banks:catalog"

// BankCatalog serves the list of supported banks. The gateway list is cached
// in redis (when available) and in process; if the gateway cannot be reached
// and nothing is cached, the built-in list is served.
type BankCatalog struct {
	gateway BankGateway
	redis   *redis.Client
	ttl     time.Duration

	mu       sync.RWMutex
	cached   []models.Bank
	cachedAt time.Time
	now      func() time.Time
}

func NewBankCatalog(gateway BankGateway, redisClient *redis.Client, ttl time.Duration) *BankCatalog {
	return &BankCatalog{
		gateway: gateway,
		redis:   redisClient,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *BankCatalog) ListBanks(ctx context.Context) ([]models.Bank, error) {
	if banks, ok := c.fromMemory(); ok {
		return banks, nil
	}

	if banks, ok := c.fromRedis(ctx); ok {
		c.remember(banks)
		return banks, nil
	}

	banks, err := c.gateway.ListBanks(ctx)
	if err != nil || len(banks) == 0 {
		log.Printf("[BANKS] Gateway bank list unavailable, serving built-in list: %v", err)
		out := make([]models.Bank, len(fallbackBanks))
		copy(out, fallbackBanks)
		return out, nil
	}

	c.remember(banks)
	c.toRedis(ctx, banks)
	return banks, nil
}

// BankName returns the display name for code, or the code itself if unknown.
func (c *BankCatalog) BankName(ctx context.Context, code string) string {
	banks, _ := c.ListBanks(ctx)
	for _, b := range banks {
		if b.Code == code {
			return b.Name
		}
	}
	for _, b := range fallbackBanks {
		if b.Code == code {
			return b.Name
		}
	}
	return code
}

func (c *BankCatalog) fromMemory() ([]models.Bank, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil || c.now().Sub(c.cachedAt) > c.ttl {
		return nil, false
	}
	out := make([]models.Bank, len(c.cached))
	copy(out, c.cached)
	return out, true
}

func (c *BankCatalog) remember(banks []models.Bank) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = banks
	c.cachedAt = c.now()
}

func (c *BankCatalog) fromRedis(ctx context.Context) ([]models.Bank, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, bankCatalogKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[BANKS] Redis read failed: %v", err)
		}
		return nil, false
	}
	var banks []models.Bank
	if err := json.Unmarshal(data, &banks); err != nil || len(banks) == 0 {
		return nil, false
	}
	return banks, true
}

func (c *BankCatalog) toRedis(ctx context.Context, banks []models.Bank) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(banks)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, bankCatalogKey, data, c.ttl).Err(); err != nil {
		log.Printf("[BANKS] Redis write failed: %v", err)
	}
}

var fallbackBanks = []models.Bank{
	{Code: "044", Name: "Access Bank"},
	{Code: "063", Name: "Access Bank (Diamond)"},
	{Code: "401", Name: "ASO Savings and Loans"},
	{Code: "023", Name: "Citibank Nigeria"},
	{Code: "050", Name: "Ecobank Nigeria"},
	{Code: "562", Name: "Ekondo Microfinance Bank"},
	{Code: "070", Name: "Fidelity Bank"},
	{Code: "011", Name: "First Bank of Nigeria"},
	{Code: "214", Name: "First City Monument Bank"},
	{Code: "00103", Name: "Globus Bank"},
	{Code: "058", Name: "Guaranty Trust Bank"},
	{Code: "030", Name: "Heritage Bank"},
	{Code: "301", Name: "Jaiz Bank"},
	{Code: "082", Name: "Keystone Bank"},
	{Code: "526", Name: "Parallex Bank"},
	{Code: "076", Name: "Polaris Bank"},
	{Code: "101", Name: "Providus Bank"},
	{Code: "125", Name: "Rubies MFB"},
	{Code: "221", Name: "Stanbic IBTC Bank"},
	{Code: "068", Name: "Standard Chartered Bank"},
	{Code: "232", Name: "Sterling Bank"},
	{Code: "100", Name: "Suntrust Bank"},
	{Code: "302", Name: "TAJ Bank"},
	{Code: "102", Name: "Titan Trust Bank"},
	{Code: "032", Name: "Union Bank of Nigeria"},
	{Code: "033", Name: "United Bank For Africa"},
	{Code: "215", Name: "Unity Bank"},
	{Code: "035", Name: "Wema Bank"},
	{Code: "057", Name: "Zenith Bank"},
	{Code: "304", Name: "Lotus Bank"},
	{Code: "50211", Name: "Kuda Bank"},
	{Code: "090267", Name: "Kuda Microfinance Bank"},
	{Code: "100002", Name: "Paga"},
	{Code: "110005", Name: "Paycom"},
	{Code: "090405", Name: "Moniepoint MFB"},
	{Code: "090328", Name: "Eyowo"},
	{Code: "090175", Name: "Rubies MFB"},
	{Code: "090110", Name: "VFD Microfinance Bank"},
	{Code: "090286", Name: "Safe Haven MFB"},
	{Code: "090365", Name: "Corestep MFB"},
	{Code: "090393", Name: "Bridgeway MFB"},
	{Code: "090270", Name: "AB Microfinance Bank"},
	{Code: "090371", Name: "Agosasa MFB"},
	{Code: "090374", Name: "Amju Unique MFB"},
	{Code: "090376", Name: "Balogun Gambari MFB"},
	{Code: "090377", Name: "Isaleoyo MFB"},
	{Code: "090378", Name: "New Golden Pastures MFB"},
	{Code: "090392", Name: "Mozfin MFB"},
	{Code: "090394", Name: "Nirsal MFB"},
	{Code: "090395", Name: "Nwannegadi MFB"},
	{Code: "090396", Name: "Oscotech MFB"},
	{Code: "090399", Name: "Ndiorah MFB"},
}
