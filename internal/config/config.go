package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port    int      `yaml:"port"`
		APIKeys []string `yaml:"apiKeys"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Browser struct {
		BaseURL         string   `yaml:"baseURL"`
		LoginTimeout    Duration `yaml:"loginTimeout"`
		SwitchTimeout   Duration `yaml:"switchTimeout"`
		DownloadTimeout Duration `yaml:"downloadTimeout"`
	} `yaml:"browser"`

	Encryption struct {
		Passphrase string `yaml:"passphrase"`
		Salt       string `yaml:"salt"`
	} `yaml:"encryption"`

	Downloads struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retentionDays"`
	} `yaml:"downloads"`

	Run struct {
		Workers int `yaml:"workers"`
		// SkipDownloadedToday short-circuits work items that already have a
		// success record for the same tenant/report/day.
		SkipDownloadedToday *bool `yaml:"skipDownloadedToday"`
	} `yaml:"run"`
}

// Duration parses "2m" style values from yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads the yaml config file and fills in defaults for omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Browser.LoginTimeout == 0 {
		c.Browser.LoginTimeout = Duration(2 * time.Minute)
	}
	if c.Browser.SwitchTimeout == 0 {
		c.Browser.SwitchTimeout = Duration(30 * time.Second)
	}
	if c.Browser.DownloadTimeout == 0 {
		c.Browser.DownloadTimeout = Duration(5 * time.Minute)
	}
	if c.Downloads.Dir == "" {
		c.Downloads.Dir = "downloads"
	}
	if c.Downloads.RetentionDays == 0 {
		c.Downloads.RetentionDays = 30
	}
	if c.Run.Workers <= 0 {
		c.Run.Workers = 2
	}
	if c.Run.SkipDownloadedToday == nil {
		t := true
		c.Run.SkipDownloadedToday = &t
	}
}

// SkipDownloadedToday resolves the pointer with its default.
func (c *Config) SkipDownloadedToday() bool {
	if c.Run.SkipDownloadedToday == nil {
		return true
	}
	return *c.Run.SkipDownloadedToday
}

// MySQLDSN builds the DSN for the mysql driver.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the connection string for lib/pq.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}
