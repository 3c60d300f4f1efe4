package main

import (
	"fmt"
	"os"
	"strings"

	"dbxauth/core"
	"dbxauth/core/providers"
	"dbxauth/storage"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Core      core.Config `yaml:",inline"`
	AppSecret string      `yaml:"app_secret"`

	// Overrides the token endpoint derived from api_host.
	TokenURL string `yaml:"token_url"`

	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`

	// Loopback listen address for browser logins, e.g. 127.0.0.1:8765.
	// Its /callback path is added to the recognized redirect URLs.
	Listen string `yaml:"listen"`
}

type StorageConfig struct {
	Type       string `yaml:"type"`
	SQLitePath string `yaml:"sqlite_path"`
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

func loadConfigFromYAML(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if pass := os.Getenv("DBXAUTH_PASSPHRASE"); pass != "" {
		config.Storage.Passphrase = pass
	}
	if config.Listen != "" {
		config.Core.RedirectURLs = append(config.Core.RedirectURLs, config.loopbackCallback())
	}

	return &config, nil
}

func (c *AppConfig) loopbackURL() string {
	return "http://" + c.Listen
}

func (c *AppConfig) loopbackCallback() string {
	return c.loopbackURL() + "/callback"
}

func initStorage(cfg StorageConfig) (core.SecureStorage, error) {
	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		var crypto *core.CryptoService
		if cfg.Passphrase != "" {
			var err error
			crypto, err = core.NewCryptoServiceFromPassphrase(cfg.Passphrase, []byte(cfg.Salt))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize crypto service: %w", err)
			}
		} else {
			log.Warn().Msg("no storage passphrase configured, credentials are stored unsealed")
		}

		store, err := storage.NewSQLiteStorage(cfg.SQLitePath, crypto, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		log.Debug().Str("path", cfg.SQLitePath).Msg("using SQLite storage")
		return store, nil

	case "memory", "":
		log.Debug().Msg("using in-memory storage")
		return storage.NewMemoryStorage(), nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: sqlite, memory)", cfg.Type)
	}
}

func setupManager(cfg *AppConfig) (*core.Manager, error) {
	secure, err := initStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	client := providers.NewDropboxClientFromConfig(cfg.Core, cfg.AppSecret)
	if cfg.TokenURL != "" {
		client = providers.NewDropboxClient(&providers.DropboxConfig{
			AppKey:    cfg.Core.AppKey,
			AppSecret: cfg.AppSecret,
			TokenURL:  cfg.TokenURL,
		})
	}

	opts := []core.Option{
		core.WithLogger(log.Logger),
		core.WithReachability(core.DialReachability{Address: hostOrDefault(cfg.Core.Host) + ":443"}),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		opts = append(opts, core.WithNonceStore(storage.NewRedisNonceStore(rdb, cfg.Redis.KeyPrefix, log.Logger)))
	}

	return core.Setup(cfg.Core, secure, client, opts...)
}

func hostOrDefault(host string) string {
	if host == "" {
		return core.DefaultHost
	}
	return host
}
