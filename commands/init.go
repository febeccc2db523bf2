package commands

import (
	"context"

	"pairlink/config"
	"pairlink/hwaddr"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a default config with a freshly generated hardware address, unless
// one was given.
func RunInit(ctx context.Context, cfg *config.Config, address string) {
	if address != "" {
		cfg.Node.Address = hwaddr.MustParse(address)
	} else {
		addr, err := hwaddr.Random()
		if err != nil {
			log.Fatalf("Failed to generate hardware address: %v", err)
		}
		cfg.Node.Address = addr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	log.Infof("Initialized node %s", cfg.Node.Address)
}
