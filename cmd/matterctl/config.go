package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/controller"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/session"
)

// Config is the matterctl configuration file.
//
//	storage: controller.state
//	listen: ":5541"
//	logLevel: debug
//	fabric:
//	  vendorID: 0xFFF1
//	  fabricID: 1
//	reconnectInterval: 10m
//	discoveryTimeout: 30s
//	regulatory:
//	  location: indoorOutdoor
//	  countryCode: DE
//	wifi:
//	  ssid: home
//	  password: secret
type Config struct {
	Storage  string `yaml:"storage"`
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"logLevel"`

	Fabric struct {
		VendorID uint16 `yaml:"vendorID"`
		FabricID uint64 `yaml:"fabricID"`
	} `yaml:"fabric"`

	Params            session.Params `yaml:"params"`
	ReconnectInterval time.Duration  `yaml:"reconnectInterval"`
	DiscoveryTimeout  time.Duration  `yaml:"discoveryTimeout"`

	Regulatory struct {
		Location    string `yaml:"location"`
		CountryCode string `yaml:"countryCode"`
	} `yaml:"regulatory"`

	WiFi struct {
		SSID     string `yaml:"ssid"`
		Password string `yaml:"password"`
	} `yaml:"wifi"`

	// ThreadDataset is the hex encoded operational dataset.
	ThreadDataset string `yaml:"threadDataset"`
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() Config {
	var c Config
	c.LogLevel = "info"
	c.DiscoveryTimeout = controller.DefaultDiscoveryTimeout
	return c
}

// LoadConfig reads path over DefaultConfig. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("matterctl: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("matterctl: parse %s: %w", path, err)
	}
	if _, err := c.regulatory(); err != nil {
		return c, err
	}
	if _, err := c.network(); err != nil {
		return c, err
	}
	return c, nil
}

var regulatoryLocations = map[string]commissioning.RegulatoryLocation{
	"indoor":        commissioning.RegulatoryIndoor,
	"outdoor":       commissioning.RegulatoryOutdoor,
	"indoorOutdoor": commissioning.RegulatoryIndoorOutdoor,
}

func (c *Config) regulatory() (commissioning.RegulatoryConfig, error) {
	if c.Regulatory.Location == "" && c.Regulatory.CountryCode == "" {
		return commissioning.RegulatoryConfig{}, nil
	}
	location := commissioning.DefaultRegulatoryLocation
	if c.Regulatory.Location != "" {
		l, ok := regulatoryLocations[c.Regulatory.Location]
		if !ok {
			return commissioning.RegulatoryConfig{}, fmt.Errorf("matterctl: unknown regulatory location %q", c.Regulatory.Location)
		}
		location = l
	}
	return commissioning.RegulatoryConfig{Location: location, CountryCode: c.Regulatory.CountryCode}, nil
}

func (c *Config) network() (commissioning.NetworkCredentials, error) {
	var n commissioning.NetworkCredentials
	if c.WiFi.SSID != "" {
		n.WiFiSSID = []byte(c.WiFi.SSID)
		n.WiFiCredentials = []byte(c.WiFi.Password)
	}
	if c.ThreadDataset != "" {
		dataset, err := hex.DecodeString(c.ThreadDataset)
		if err != nil {
			return n, fmt.Errorf("matterctl: thread dataset: %w", err)
		}
		n.ThreadDataset = dataset
	}
	return n, nil
}

// controllerConfig maps the file onto a controller configuration. Storage,
// network and logging are filled by the caller.
func (c *Config) controllerConfig() controller.ControllerConfig {
	return controller.ControllerConfig{
		ListenAddr:        c.Listen,
		AdminVendorID:     fabric.VendorID(c.Fabric.VendorID),
		AdminFabricID:     fabric.FabricID(c.Fabric.FabricID),
		Params:            c.Params,
		ReconnectInterval: c.ReconnectInterval,
	}
}

// commissionOptions returns the options shared by every commission command.
func (c *Config) commissionOptions() (controller.CommissionOptions, error) {
	reg, err := c.regulatory()
	if err != nil {
		return controller.CommissionOptions{}, err
	}
	network, err := c.network()
	if err != nil {
		return controller.CommissionOptions{}, err
	}
	return controller.CommissionOptions{
		DiscoveryTimeout: c.DiscoveryTimeout,
		Regulatory:       reg,
		Network:          network,
	}, nil
}
