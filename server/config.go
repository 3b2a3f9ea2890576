package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/demonid/chatline/model"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	ServerName     string        `yaml:"server_name"`
	WelcomeMessage string        `yaml:"welcome_message"`
	AccountsFile   string        `yaml:"accounts_file"` // empty disables name claims
	LogDir         string        `yaml:"log_dir"`
	LogLevel       string        `yaml:"log_level"`
	BannedNames    []string      `yaml:"banned_names"`
	SendBuffer     int           `yaml:"send_buffer"`
	MaxFrameSize   int64         `yaml:"max_frame_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PongWait       time.Duration `yaml:"pong_wait"`
	LoginTimeout   time.Duration `yaml:"login_timeout"`

	mu         sync.RWMutex
	configFile string
}

func NewConfig(filename string) *Config {
	if filename == "" {
		filename = "server.yaml"
	}
	return &Config{
		configFile: filename,
		// Defaults
		Host:           "localhost",
		Port:           "8999",
		ServerName:     "Chatline Server",
		WelcomeMessage: "Welcome! Type @name to whisper.",
		LogDir:         "logs",
		LogLevel:       "info",
		BannedNames:    []string{},
		SendBuffer:     256,
		MaxFrameSize:   model.MaxFrameSize,
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		LoginTimeout:   15 * time.Second,
	}
}

// Load reads the config file, creating it with defaults if it does not
// exist, then applies environment overrides.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.configFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := c.saveInternal(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("reading config %s: %w", c.configFile, err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing config %s: %w", c.configFile, err)
		}
	}

	c.applyEnv()
	return c.validate()
}

func (c *Config) applyEnv() {
	if host := os.Getenv("CHAT_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("CHAT_PORT"); port != "" {
		c.Port = port
	}
	if level := os.Getenv("CHAT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if file := os.Getenv("CHAT_ACCOUNTS_FILE"); file != "" {
		c.AccountsFile = file
	}
}

func (c *Config) validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max_frame_size must be positive, got %d", c.MaxFrameSize)
	}
	if c.WriteTimeout <= 0 || c.PongWait <= 0 || c.LoginTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.PongWait*9/10 <= 0 {
		return fmt.Errorf("pong_wait %s is too short", c.PongWait)
	}
	return nil
}

// SetAddr overrides host and port from a host:port string.
func (c *Config) SetAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Host = host
	c.Port = port
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveInternal()
}

func (c *Config) saveInternal() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) IsBanned(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.BannedNames, name)
}

func (c *Config) Ban(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.Contains(c.BannedNames, name) {
		return nil
	}
	c.BannedNames = append(c.BannedNames, name)
	return c.saveInternal()
}

func (c *Config) Unban(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.BannedNames = slices.DeleteFunc(c.BannedNames, func(banned string) bool {
		return banned == name
	})
	return c.saveInternal()
}

func (c *Config) Welcome() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.WelcomeMessage
}
