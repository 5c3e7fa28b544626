package main

import (
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/davidbz/markl/internal/config"
	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/expand"
	"github.com/davidbz/markl/internal/httpserver"
	"github.com/davidbz/markl/internal/httpserver/middleware"
	"github.com/davidbz/markl/internal/observability"
	"github.com/davidbz/markl/internal/ocr"
	"github.com/davidbz/markl/internal/provider/echo"
	"github.com/davidbz/markl/internal/provider/openai"
	"github.com/davidbz/markl/internal/registry"
	"github.com/davidbz/markl/internal/relay"
	redisstore "github.com/davidbz/markl/internal/store/redis"
)

func main() {
	if _, err := observability.InitLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	container := buildContainer()

	err := container.Invoke(func(server *httpserver.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	provide := func(constructor interface{}) {
		if err := container.Provide(constructor); err != nil {
			log.Fatalf("Failed to build container: %v", err)
		}
	}

	// Configuration
	provide(config.Load)
	provide(config.ParseDependenciesConfig)

	// Observability
	provide(func() domain.EventPublisher {
		return &observability.EventBus{}
	})

	// Stores
	provide(func(cfg *config.RedisConfig) *goredis.Client {
		return goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	})
	provide(func(client *goredis.Client, cfg *config.RedisConfig) domain.FileStore {
		return redisstore.NewFileStore(client, time.Duration(cfg.FileTTLHours)*time.Hour)
	})
	provide(func(client *goredis.Client, cfg *config.RedisConfig) domain.TraceStore {
		return redisstore.NewTraceStore(client, time.Duration(cfg.TraceTTL)*time.Hour)
	})

	// OCR is optional: without a base URL, extraction-dependent requests
	// fail their precondition instead of the whole service failing to boot.
	provide(func(cfg *ocr.Config) (domain.OCRService, error) {
		if cfg.BaseURL == "" {
			return ocr.Disabled{}, nil
		}
		return ocr.NewClient(*cfg)
	})

	// Model registry with providers
	provide(buildRegistry)

	// Pipeline services
	provide(expand.NewExpander)
	provide(relay.NewService)

	// HTTP layer
	provide(httpserver.NewHandler)
	provide(func(corsConfig *config.CORSConfig) middleware.Middleware {
		return middleware.BuildMiddlewareChain(corsConfig)
	})
	provide(httpserver.NewServer)

	return container
}

// buildRegistry registers every configured provider and its model table. The
// echo provider is always available so the service works without upstream
// credentials.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.NewRegistry()

	if err := reg.RegisterProvider(echo.NewProvider()); err != nil {
		return nil, err
	}
	if err := reg.RegisterModel(domain.Model{
		ID:               "echo4",
		Name:             "Echo 4",
		Provider:         "echo",
		MaxContextLength: 8192,
	}); err != nil {
		return nil, err
	}

	if cfg.OpenAI.APIKey != "" {
		openaiProvider, err := openai.NewProvider(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterProvider(openaiProvider); err != nil {
			return nil, err
		}

		for _, model := range []domain.Model{
			{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai", SupportsVision: true, MaxContextLength: 128000},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai", SupportsVision: true, MaxContextLength: 128000},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: "openai", SupportsVision: true, MaxContextLength: 128000},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: "openai", MaxContextLength: 16385},
		} {
			if err := reg.RegisterModel(model); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}
