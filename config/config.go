package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Orders   OrdersConfig   `yaml:"orders"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Tickets  TicketsConfig  `yaml:"tickets"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	OrderTopic  string   `yaml:"order_topic"`
	TicketTopic string   `yaml:"ticket_topic"`
	GroupID     string   `yaml:"group_id"`
}

type OrdersConfig struct {
	ReservationTTLMinutes int     `yaml:"reservation_ttl_minutes"`
	ServiceFeePercent     float64 `yaml:"service_fee_percent"`
	TaxPercent            float64 `yaml:"tax_percent"`
	EventsCacheTTLSeconds int     `yaml:"events_cache_ttl_seconds"`
	RefundWindowHours     int     `yaml:"refund_window_hours"`
}

func (o OrdersConfig) ReservationTTL() time.Duration {
	if o.ReservationTTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(o.ReservationTTLMinutes) * time.Minute
}

func (o OrdersConfig) RefundWindow() time.Duration {
	return time.Duration(o.RefundWindowHours) * time.Hour
}

type GatewayConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	BasicAuthKey   string `yaml:"basic_auth_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

func (g GatewayConfig) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

type TicketsConfig struct {
	SigningSecret       string `yaml:"signing_secret"`
	CheckInLeadMinutes  int    `yaml:"check_in_lead_minutes"`
}

func (t TicketsConfig) CheckInLead() time.Duration {
	if t.CheckInLeadMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(t.CheckInLeadMinutes) * time.Minute
}

type WorkerConfig struct {
	ExpirationSweepMinutes int `yaml:"expiration_sweep_minutes"`
	SweepBatchSize         int `yaml:"sweep_batch_size"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
