package service

import (
	"time"

	"robux-shop/internal/config"

	"github.com/shopspring/decimal"
)

// Config is the immutable engine configuration.
type Config struct {
	Currency     string
	PricePerUnit decimal.Decimal
	MinQuantity  int
	MaxQuantity  int
	TaxRate      decimal.Decimal

	PollInterval    time.Duration
	MaxPollDuration time.Duration

	AutoDeliveryCheck     bool
	DeliveryCheckInterval time.Duration
	MaxDeliveryWait       time.Duration

	// GatewayCallTimeout bounds best-effort gateway calls made outside a request.
	GatewayCallTimeout time.Duration
}

// ConfigFrom derives the engine configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Currency:              cfg.Engine.Currency,
		PricePerUnit:          cfg.Engine.PricePerUnit,
		MinQuantity:           cfg.Engine.MinQuantity,
		MaxQuantity:           cfg.Engine.MaxQuantity,
		TaxRate:               cfg.Roblox.TaxRate,
		PollInterval:          cfg.Engine.PollInterval,
		MaxPollDuration:       cfg.Engine.MaxPollDuration,
		AutoDeliveryCheck:     cfg.Engine.AutoDeliveryCheck,
		DeliveryCheckInterval: cfg.Engine.DeliveryCheckInterval,
		MaxDeliveryWait:       cfg.Engine.MaxDeliveryWait,
		GatewayCallTimeout:    cfg.Payment.RequestTimeout,
	}
}
