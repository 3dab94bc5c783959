package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"repairpos/backend/internal/cache"
	"repairpos/backend/internal/config"
	"repairpos/backend/internal/httpapi"
	"repairpos/backend/internal/service"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/store/memory"
	pgstore "repairpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("[server] refusing to start: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

func run(cfg config.Config) error {
	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSetup()

	repo, closeRepo, err := openRepository(setupCtx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	saleCache, closeCache := openSaleCache(setupCtx, cfg)
	defer closeCache()

	svc := service.New(repo, service.Options{
		SaleCache:         saleCache,
		SaleCacheTTL:      cfg.SaleCacheTTL(),
		LowStockThreshold: cfg.LowStockThreshold,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, cfg.PINAttemptsPerMinute)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[server] repair POS API on %s", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancelDrain()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain connections: %w", err)
	}
	log.Println("[server] drained, closing stores")
	return nil
}

// openRepository uses postgres whenever DATABASE_URL is set and never falls
// back to the seeded in-memory store in that case.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Println("[server] DATABASE_URL unset, serving seeded in-memory data")
		return memory.NewSeeded(), func() {}, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Printf("[server] WARN: close postgres: %v", err)
		}
	}, nil
}

// openSaleCache degrades to the no-op cache when Redis is unset or down;
// sale reads then go straight to the repository.
func openSaleCache(ctx context.Context, cfg config.Config) (cache.SaleCache, func()) {
	if cfg.RedisAddr == "" {
		return cache.NoopSaleCache{}, func() {}
	}

	redisCache := cache.NewRedisSaleCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("[server] WARN: redis at %s unreachable, sale cache disabled: %v", cfg.RedisAddr, err)
		_ = redisCache.Close()
		return cache.NoopSaleCache{}, func() {}
	}
	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			log.Printf("[server] WARN: close redis: %v", err)
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 || strings.Trim(cfg.ManagerPIN, "0123456789") != "" {
		return errors.New("MANAGER_PIN must be at least 6 digits and digits only")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN rejected: %w", err)
	}
	return nil
}

var weakPINs = map[string]bool{"112233": true, "11223344": true, "147258": true, "159753": true}

// validatePINStrength rejects guessable PINs: one short block repeated
// (000000, 121212, 123123), a straight digit run either way, or a known pattern.
func validatePINStrength(pin string) error {
	for size := 1; size <= len(pin)/2; size++ {
		if len(pin)%size == 0 && strings.Repeat(pin[:size], len(pin)/size) == pin {
			return errors.New("repeating pattern")
		}
	}
	if strings.Contains("01234567890", pin) || strings.Contains("09876543210", pin) {
		return errors.New("sequential digits")
	}
	if weakPINs[pin] {
		return errors.New("common pattern")
	}
	return nil
}
