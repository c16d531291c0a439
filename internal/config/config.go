package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Switch is an ON/OFF toggle as written in the configuration file.
type Switch bool

// UnmarshalYAML accepts "ON" and "OFF" (case-insensitive). An absent key
// decodes to the zero value, which is OFF.
func (s *Switch) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToUpper(strings.TrimSpace(value.Value)) {
	case "ON":
		*s = true
	case "OFF", "":
		*s = false
	default:
		return fmt.Errorf("expected ON or OFF, got %q", value.Value)
	}
	return nil
}

// On reports whether the switch is set to ON.
func (s Switch) On() bool { return bool(s) }

// GuestIDList is a list of guest IDs. In YAML it accepts integers, numeric
// strings, and inclusive "low-high" ranges; ranges are expanded at decode time.
type GuestIDList []int

func (g *GuestIDList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("expected a list of guest IDs")
	}
	var ids []int
	for _, item := range value.Content {
		raw := strings.TrimSpace(item.Value)
		if low, high, ok := strings.Cut(raw, "-"); ok && low != "" {
			lo, err := strconv.Atoi(strings.TrimSpace(low))
			if err != nil {
				return fmt.Errorf("bad guest ID range %q: %w", raw, err)
			}
			hi, err := strconv.Atoi(strings.TrimSpace(high))
			if err != nil {
				return fmt.Errorf("bad guest ID range %q: %w", raw, err)
			}
			if hi < lo {
				return fmt.Errorf("bad guest ID range %q: end before start", raw)
			}
			for id := lo; id <= hi; id++ {
				ids = append(ids, id)
			}
			continue
		}
		id, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("bad guest ID %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	*g = ids
	return nil
}

// URL identifies the Proxmox API endpoint.
type URL struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Auth holds the Proxmox API credentials.
type Auth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Realm    string `yaml:"realm"`
}

// Proxmox groups the connection settings.
type Proxmox struct {
	URL  URL  `yaml:"url"`
	Auth Auth `yaml:"auth"`
}

// Parameters holds the balancing knobs.
type Parameters struct {
	Deviation        float64 `yaml:"deviation"` // percent; halved percent forms the trigger threshold
	Threshold        float64 `yaml:"threshold"` // percent; cluster memory load warning level
	LXCMigration     Switch  `yaml:"lxc_migration"`
	MigrationTimeout int     `yaml:"migration_timeout"` // reserved
	OnlyOnMaster     Switch  `yaml:"only_on_master"`
	TestMode         Switch  `yaml:"test_mode"`
	PerturbationSeed int64   `yaml:"perturbation_seed"` // 0 = time-seeded
	PollCeiling      int     `yaml:"poll_ceiling"`      // seconds; 0 = poll without bound
}

// Exclusions lists guests and nodes the balancer must never touch.
type Exclusions struct {
	VMs   GuestIDList `yaml:"vms"`
	Nodes []string    `yaml:"nodes"`
}

// Balancing holds deviation weights and risk thresholds.
type Balancing struct {
	WeightRAM          float64 `yaml:"weight_ram"`
	WeightCPU          float64 `yaml:"weight_cpu"`
	MemoryOOMThreshold float64 `yaml:"memory_oom_threshold"` // percent
	CPUThreshold       float64 `yaml:"cpu_threshold"`        // percent
}

// MailServer identifies the SMTP relay.
type MailServer struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Mail holds the notification settings.
type Mail struct {
	Sending        Switch     `yaml:"sending"`
	MessageSubject string     `yaml:"message_subject"`
	From           string     `yaml:"from"`
	To             string     `yaml:"to"`
	Login          string     `yaml:"login"`
	Password       string     `yaml:"password"`
	Server         MailServer `yaml:"server"`
	SSLTLS         Switch     `yaml:"ssl_tls"`
}

// History configures the sqlite record of balancer activity.
// A nil Enabled means "not set in YAML" and defaults to on.
type History struct {
	Enabled *Switch `yaml:"enabled"`
	Path    string  `yaml:"path"`
}

// On reports whether history recording is active.
func (h History) On() bool { return h.Enabled == nil || h.Enabled.On() }

// DefaultHistoryPath is used when history.path is not set.
const DefaultHistoryPath = "plb_history.db"

// Config is the full typed configuration, validated once at startup.
type Config struct {
	Proxmox      Proxmox             `yaml:"proxmox"`
	Parameters   Parameters          `yaml:"parameters"`
	Exclusions   Exclusions          `yaml:"exclusions"`
	Groups       map[string][]string `yaml:"groups"`
	Balancing    Balancing           `yaml:"balancing"`
	Mail         Mail                `yaml:"mail"`
	History      History             `yaml:"history"`
	LoggingLevel string              `yaml:"logging_level"`

	// Normalized at load time.
	ExcludedGuests map[int]bool    `yaml:"-"`
	ExcludedNodes  map[string]bool `yaml:"-"`
	nodeGroup      map[string]string
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Load reads, parses, validates and normalizes a configuration file.
// Unrecognized keys (typos) are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Proxmox.URL.IP == "" {
		return &ValidationError{Field: "proxmox.url.ip", Message: "is required"}
	}
	if c.Proxmox.URL.Port <= 0 || c.Proxmox.URL.Port > 65535 {
		return &ValidationError{Field: "proxmox.url.port", Message: "must be a valid port"}
	}
	if c.Proxmox.Auth.Username == "" {
		return &ValidationError{Field: "proxmox.auth.username", Message: "is required"}
	}
	if c.Parameters.Deviation <= 0 {
		return &ValidationError{Field: "parameters.deviation", Message: "must be greater than 0"}
	}
	if c.Parameters.Threshold <= 0 || c.Parameters.Threshold > 100 {
		return &ValidationError{Field: "parameters.threshold", Message: "must be in (0,100]"}
	}
	if c.Parameters.PollCeiling < 0 {
		return &ValidationError{Field: "parameters.poll_ceiling", Message: "must not be negative"}
	}
	if c.Balancing.WeightRAM < 0 {
		return &ValidationError{Field: "balancing.weight_ram", Message: "must not be negative"}
	}
	if c.Balancing.WeightCPU < 0 {
		return &ValidationError{Field: "balancing.weight_cpu", Message: "must not be negative"}
	}
	if t := c.Balancing.MemoryOOMThreshold; t <= 0 || t > 100 {
		return &ValidationError{Field: "balancing.memory_oom_threshold", Message: "must be in (0,100]"}
	}
	if t := c.Balancing.CPUThreshold; t <= 0 || t > 100 {
		return &ValidationError{Field: "balancing.cpu_threshold", Message: "must be in (0,100]"}
	}
	seen := make(map[string]string)
	for group, nodes := range c.Groups {
		for _, node := range nodes {
			if prev, ok := seen[node]; ok && prev != group {
				return &ValidationError{
					Field:   "groups",
					Message: fmt.Sprintf("node %q listed in both %q and %q", node, prev, group),
				}
			}
			seen[node] = group
		}
	}
	if c.Mail.Sending.On() {
		if c.Mail.Server.Address == "" {
			return &ValidationError{Field: "mail.server.address", Message: "is required when sending is ON"}
		}
		if c.Mail.To == "" {
			return &ValidationError{Field: "mail.to", Message: "is required when sending is ON"}
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.ExcludedGuests = make(map[int]bool, len(c.Exclusions.VMs))
	for _, id := range c.Exclusions.VMs {
		c.ExcludedGuests[id] = true
	}
	c.ExcludedNodes = make(map[string]bool, len(c.Exclusions.Nodes))
	for _, node := range c.Exclusions.Nodes {
		c.ExcludedNodes[node] = true
	}
	c.nodeGroup = make(map[string]string)
	for group, nodes := range c.Groups {
		for _, node := range nodes {
			c.nodeGroup[node] = group
		}
	}
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath
	}
	if c.LoggingLevel == "" {
		c.LoggingLevel = "info"
	}
}

// BaseURL returns the Proxmox API base, e.g. "https://10.0.0.1:8006".
func (c *Config) BaseURL() string {
	return fmt.Sprintf("https://%s:%d", c.Proxmox.URL.IP, c.Proxmox.URL.Port)
}

// APIUser returns the username as the ticket endpoint expects it,
// with the realm appended when one is configured.
func (c *Config) APIUser() string {
	user := c.Proxmox.Auth.Username
	if c.Proxmox.Auth.Realm != "" && !strings.Contains(user, "@") {
		user += "@" + c.Proxmox.Auth.Realm
	}
	return user
}

// ConfiguredDeviation is the steady trigger threshold: the configured
// deviation percent divided by 200 (half of a percent fraction).
func (c *Config) ConfiguredDeviation() float64 {
	return c.Parameters.Deviation / 200
}

// MemLoadThreshold is the cluster memory load warning level as a fraction.
func (c *Config) MemLoadThreshold() float64 {
	return c.Parameters.Threshold / 100
}

// GroupOf returns the group a node belongs to, or "" for the implicit
// no-group bucket.
func (c *Config) GroupOf(node string) string {
	return c.nodeGroup[node]
}
