package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayProof/internal/pkg/cache"
	"github.com/ManuelReschke/PayProof/internal/pkg/env"
	"github.com/ManuelReschke/PayProof/internal/pkg/usercontext"
)

const (
	DefaultReceiptMax    = 10
	DefaultReceiptWindow = 10 * time.Minute
)

// Config controls the receipt upload limiter
type Config struct {
	Max    int
	Window time.Duration
}

// LoadConfig reads the limiter settings from the environment
func LoadConfig() Config {
	return Config{
		Max:    env.GetEnvInt("RECEIPT_RATE_LIMIT", DefaultReceiptMax),
		Window: env.GetEnvSeconds("RECEIPT_RATE_WINDOW_SECONDS", DefaultReceiptWindow),
	}
}

// NewRedisStorage returns limiter storage on the cache server, database 1.
func NewRedisStorage() fiber.Storage {
	// Get Redis client configuration from existing cache setup
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1, // cache uses DB 0
		Reset:    false,
	})
}

// ReceiptLimiter limits receipt uploads per user. A nil storage keeps the
// counters in memory.
func ReceiptLimiter(cfg Config, storage fiber.Storage) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = DefaultReceiptMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultReceiptWindow
	}
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != 0 {
				return "receipt:user:" + strconv.FormatUint(uint64(id), 10)
			}
			return "receipt:ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many receipt uploads, try again later",
			})
		},
	})
}
