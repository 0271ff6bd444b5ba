package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "lgswitch")
}

func configPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func credentialsPath() string {
	return filepath.Join(configDir(), "credentials.json")
}

// TargetDevice identifies the one USB keyboard the daemon tracks.
type TargetDevice struct {
	Bus         string `yaml:"bus"`
	VendorID    string `yaml:"vendor_id"`
	ModelID     string `yaml:"model_id"`
	DisplayName string `yaml:"display_name"`
}

// Matches reports whether the given device is the tracked keyboard.
// Vendor and model ids are compared case-insensitively; the device
// must be on the USB bus and declare keyboard capability.
func (t TargetDevice) Matches(d DeviceInfo) bool {
	if d.Bus != "usb" || !d.Keyboard {
		return false
	}
	return strings.EqualFold(d.VendorID, t.VendorID) && strings.EqualFold(d.ModelID, t.ModelID)
}

// Config is the daemon configuration, read once at startup.
type Config struct {
	DeviceAddress       string       `yaml:"device_address"`
	InputWhenPresent    string       `yaml:"input_when_present"`
	InputWhenAbsent     string       `yaml:"input_when_absent"`
	WakeScreenOnConnect *bool        `yaml:"wake_screen_on_connect"`
	TargetDevice        TargetDevice `yaml:"target_device"`
}

// WakeScreen returns the wake_screen_on_connect setting, defaulting to true.
func (c *Config) WakeScreen() bool {
	return c.WakeScreenOnConnect == nil || *c.WakeScreenOnConnect
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w (run `lgswitch setup` first?)", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DeviceAddress == "":
		return fmt.Errorf("device_address is required")
	case c.InputWhenPresent == "":
		return fmt.Errorf("input_when_present is required")
	case c.InputWhenAbsent == "":
		return fmt.Errorf("input_when_absent is required")
	case c.TargetDevice.VendorID == "":
		return fmt.Errorf("target_device.vendor_id is required")
	case c.TargetDevice.ModelID == "":
		return fmt.Errorf("target_device.model_id is required")
	}
	if c.TargetDevice.Bus != "" && !strings.EqualFold(c.TargetDevice.Bus, "usb") {
		return fmt.Errorf("target_device.bus must be %q, got %q", "usb", c.TargetDevice.Bus)
	}
	return nil
}

func saveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
