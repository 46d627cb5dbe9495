package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config хранит все параметры приложения
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Sync     SyncConfig     `yaml:"sync"`
	HTTP     HTTPConfig     `yaml:"http"`
	Identity IdentityConfig `yaml:"identity"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Exchange string `yaml:"exchange"`
}

type SyncConfig struct {
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CountersSpacing    time.Duration `yaml:"counters_spacing"`
	CollectionsSpacing time.Duration `yaml:"collections_spacing"`
	LoadMoreFloor      time.Duration `yaml:"load_more_floor"`
	MaxEmptyPages      int           `yaml:"max_empty_pages"`
	PageSize           int           `yaml:"page_size"`
	WarehouseID        string        `yaml:"warehouse_id"`
	DistrictID         string        `yaml:"district_id"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type IdentityConfig struct {
	AccessToken string `yaml:"access_token"`
	TokenSecret string `yaml:"token_secret"`
}

func Default() Config {
	return Config{
		Database: DatabaseConfig{Port: 5432},
		RabbitMQ: RabbitMQConfig{Port: 5672, VHost: "/", Exchange: "order_events"},
		Sync: SyncConfig{
			CacheTTL:           2 * time.Minute,
			CountersSpacing:    500 * time.Millisecond,
			CollectionsSpacing: time.Second,
			LoadMoreFloor:      time.Second,
			MaxEmptyPages:      3,
			PageSize:           20,
		},
		HTTP: HTTPConfig{Addr: ":3001"},
	}
}

// LoadEnv loads .env files into the process environment; missing files are
// not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig reads the YAML file over the defaults, then applies environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if c.RabbitMQ.Host == "" {
		errs = append(errs, errors.New("rabbitmq.host is required"))
	}
	if c.Sync.PageSize <= 0 {
		errs = append(errs, errors.New("sync.page_size must be positive"))
	}
	if c.Sync.MaxEmptyPages <= 0 {
		errs = append(errs, errors.New("sync.max_empty_pages must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(c *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"DB_HOST":           &c.Database.Host,
		"DB_USER":           &c.Database.User,
		"DB_PASSWORD":       &c.Database.Password,
		"DB_NAME":           &c.Database.Database,
		"RABBITMQ_HOST":     &c.RabbitMQ.Host,
		"RABBITMQ_USER":     &c.RabbitMQ.User,
		"RABBITMQ_PASSWORD": &c.RabbitMQ.Password,
		"RABBITMQ_VHOST":    &c.RabbitMQ.VHost,
		"HTTP_ADDR":         &c.HTTP.Addr,
		"WAREHOUSE_ID":      &c.Sync.WarehouseID,
		"ACCESS_TOKEN":      &c.Identity.AccessToken,
		"TOKEN_SECRET":      &c.Identity.TokenSecret,
	}
	for k, p := range strs {
		if v, ok := lookup(k); ok && v != "" {
			*p = v
		}
	}

	ints := map[string]*int{
		"DB_PORT":       &c.Database.Port,
		"RABBITMQ_PORT": &c.RabbitMQ.Port,
	}
	for k, p := range ints {
		v, ok := lookup(k)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*p = n
	}
	return nil
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
