package store

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/config"
)

const pingTimeout = 2 * time.Second

// ConnectRedis creates a Redis client and pings it with exponential backoff
// until cfg.ConnectTimeout elapses.
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.ConnectTimeout <= 0 || cfg.RetryInterval <= 0 || cfg.MaxWait <= 0 {
		return nil, fmt.Errorf("redis connect_timeout, retry_interval and max_wait must be > 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := pingWithRetry(client, cfg); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func pingWithRetry(client *redis.Client, cfg config.RedisConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	log := logrus.WithField("addr", cfg.Addr)
	log.Infof("Connecting to redis (timeout %v)", cfg.ConnectTimeout)

	attempt := 0
	wait := cfg.RetryInterval
	for {
		attempt++

		pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err == nil {
			if attempt > 1 {
				log.Warnf("Connected to redis after %d attempts", attempt)
			} else {
				log.Info("Connected to redis")
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Errorf("Redis unavailable after %d attempts: %v", attempt, err)
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", cfg.Addr, attempt, err)
		case <-timer.C:
			log.Warnf("Redis connection attempt %d failed, retrying in %v: %v", attempt, wait, err)
			wait *= 2
			if wait > cfg.MaxWait {
				wait = cfg.MaxWait
			}
		}
	}
}
