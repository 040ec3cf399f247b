package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

type Options struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SetupCache connects the shared Redis client. An empty host leaves the cache disabled and every
// consumer falls back to its in-process implementation.
func SetupCache(opts Options) *redis.Client {
	if opts.Host == "" {
		log.Info("[Cache] CACHE_HOST not set, shared cache disabled")
		client = nil
		return nil
	}

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("[Cache] Could not connect to %s:%s: %v", opts.Host, opts.Port, err)
	} else {
		log.Infof("[Cache] Connected to %s:%s", opts.Host, opts.Port)
	}
	return client
}

func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}
