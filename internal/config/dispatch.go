package config

import (
	"time"

	"ridehail/internal/utils"
)

// DispatchConfig carries the matching knobs. Defaults mirror the product
// rules: a 20 second exclusive offer, a 60 second matching backstop, a 500
// meter candidate radius, and at most 5 concurrent rides per driver.
type DispatchConfig struct {
	OfferWindow        time.Duration `yaml:"offer_window"`
	GlobalTimeout      time.Duration `yaml:"global_timeout"`
	SearchRadiusMeters float64       `yaml:"search_radius_meters"`
	MaxConcurrentRides int           `yaml:"max_concurrent_rides"`
}

func loadDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		OfferWindow:        getEnvAsDuration("DISPATCH_OFFER_WINDOW", utils.OfferWindow),
		GlobalTimeout:      getEnvAsDuration("DISPATCH_GLOBAL_TIMEOUT", utils.GlobalDispatchTimeout),
		SearchRadiusMeters: getEnvAsFloat64("DISPATCH_SEARCH_RADIUS_METERS", utils.SearchRadiusMeters),
		MaxConcurrentRides: getEnvAsInt("DISPATCH_MAX_CONCURRENT_RIDES", utils.MaxConcurrentRides),
	}
}
