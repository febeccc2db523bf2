package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pairlink/hwaddr"
	"pairlink/link"

	log "github.com/sirupsen/logrus"
)

// Duration is a time.Duration stored as a string such as "1s" or "250ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config represents the configuration of a pairlink node
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		// Hardware address of this node. Generated by "init".
		Address hwaddr.Addr `json:"address"`
	} `json:"node"`

	Link struct {
		MulticastGroup string   `json:"multicast_group"`
		Interface      string   `json:"interface,omitempty"`
		Channel        uint8    `json:"channel"`
		Encrypted      bool     `json:"encrypted"`
		AckTimeout     Duration `json:"ack_timeout"`
	} `json:"link"`

	Timing struct {
		Tick              Duration `json:"tick"`
		Jitter            Duration `json:"jitter"`
		PeerTimeout       Duration `json:"peer_timeout"`
		DiscoveryInterval Duration `json:"discovery_interval"`
		MaxAttempts       int      `json:"max_attempts"`
		ConfirmTimeout    Duration `json:"confirm_timeout"`
		Backoff           Duration `json:"backoff"`
	} `json:"timing"`

	DataStore struct {
		PeerJournalPath string `json:"peer_journal"`
	} `json:"datastore"`

	Network struct {
		RPCListenAddress string `json:"rpc_listen"`
	} `json:"network"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Link.MulticastGroup = "239.77.0.1:4210"
	cfg.Link.Channel = link.DefaultChannel
	cfg.Link.AckTimeout = Duration(200 * time.Millisecond)

	t := link.DefaultTiming()
	cfg.Timing.Tick = Duration(t.Tick)
	cfg.Timing.Jitter = Duration(t.Jitter)
	cfg.Timing.PeerTimeout = Duration(t.PeerTimeout)
	cfg.Timing.DiscoveryInterval = Duration(t.DiscoveryInterval)
	cfg.Timing.MaxAttempts = t.MaxAttempts
	cfg.Timing.ConfirmTimeout = Duration(t.ConfirmTimeout)
	cfg.Timing.Backoff = Duration(t.Backoff)

	cfg.DataStore.PeerJournalPath = "/tmp/pairlink/peers"

	cfg.Network.RPCListenAddress = "127.0.0.1:4211"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LinkTiming converts the timing section for the link package.
func (c *Config) LinkTiming() link.Timing {
	return link.Timing{
		Tick:              time.Duration(c.Timing.Tick),
		Jitter:            time.Duration(c.Timing.Jitter),
		PeerTimeout:       time.Duration(c.Timing.PeerTimeout),
		DiscoveryInterval: time.Duration(c.Timing.DiscoveryInterval),
		MaxAttempts:       c.Timing.MaxAttempts,
		ConfirmTimeout:    time.Duration(c.Timing.ConfirmTimeout),
		Backoff:           time.Duration(c.Timing.Backoff),
	}
}

func (c *Config) LinkAckTimeout() time.Duration {
	return time.Duration(c.Link.AckTimeout)
}

func (c *Config) Validate() error {
	if c.Node.Address.IsZero() || c.Node.Address.IsBroadcast() {
		return fmt.Errorf("node.address: %w", hwaddr.ErrInvalidAddr)
	}
	if c.Link.MulticastGroup == "" {
		return fmt.Errorf("link.multicast_group is empty")
	}
	if c.Timing.Jitter >= c.Timing.Tick {
		return fmt.Errorf("timing.jitter (%v) must be smaller than timing.tick (%v)",
			time.Duration(c.Timing.Jitter), time.Duration(c.Timing.Tick))
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
