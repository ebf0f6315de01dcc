// Package config provides configuration management for wheelwright.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/explosion/wheelwright/src/provider"
)

// FileName is the optional config file in the root directory.
const FileName = "wheelwright.yaml"

// TokenFileName holds the GitHub token when GITHUB_SECRET_TOKEN is unset.
const TokenFileName = "github-secret-token.txt"

// Token sources, as recorded in Config.TokenSource.
const (
	TokenFromEnv  = "env"
	TokenFromFile = "file"
)

// Config holds the application configuration.
type Config struct {
	// Root is the directory wheelwright runs from; the token file and
	// wheelwright.yaml are looked up here.
	Root string
	// WheelsDir receives downloaded wheels, one subdirectory per release.
	WheelsDir string
	// Repo is the build repository as "user/repo".
	Repo string
	// Token authenticates against the GitHub API.
	Token string
	// TokenSource is TokenFromEnv, TokenFromFile or empty when no token
	// was found.
	TokenSource string

	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollTimeout     time.Duration
	// MaxPolls caps the number of status fetches; 0 means no cap.
	MaxPolls    int
	Concurrency int
	Checks      provider.Registry

	// PostgresDSN enables the build history store.
	PostgresDSN string
	// RedpandaBrokers enables publishing build events.
	RedpandaBrokers []string
	S3              S3Config
}

// S3Config configures the optional wheel mirror.
type S3Config struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Region         string `yaml:"region"`
	DisableTLS     bool   `yaml:"disable_tls"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// fileConfig mirrors wheelwright.yaml.
type fileConfig struct {
	Repo            string      `yaml:"repo"`
	WheelsDir       string      `yaml:"wheels_dir"`
	PollInterval    string      `yaml:"poll_interval"`
	PollMaxInterval string      `yaml:"poll_max_interval"`
	PollTimeout     string      `yaml:"poll_timeout"`
	MaxPolls        int         `yaml:"max_polls"`
	Concurrency     int         `yaml:"concurrency"`
	Checks          []fileCheck `yaml:"checks"`
	PostgresDSN     string      `yaml:"postgres_dsn"`
	RedpandaBrokers []string    `yaml:"redpanda_brokers"`
	S3              S3Config    `yaml:"s3"`
}

type fileCheck struct {
	Context string `yaml:"context"`
	Name    string `yaml:"name"`
}

// GitRemote returns the origin URL of the git checkout in dir. Replaced in
// tests.
var GitRemote = func(dir string) (string, error) {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Default returns the configuration used when nothing is set.
func Default(root string) *Config {
	return &Config{
		Root:            root,
		WheelsDir:       filepath.Join(root, "wheels"),
		PollInterval:    10 * time.Second,
		PollMaxInterval: time.Minute,
		PollTimeout:     3 * time.Hour,
		Concurrency:     4,
		Checks:          provider.DefaultRegistry(),
	}
}

// LoadFromEnv builds the configuration from defaults, then wheelwright.yaml
// in the root directory, then environment variables. Missing repository or
// token are not errors here; commands that need them call RequireRepo and
// RequireToken.
func LoadFromEnv() (*Config, error) {
	root := os.Getenv("WHEELWRIGHT_ROOT")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrConfig, err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}

	cfg := Default(root)
	if err := cfg.applyFile(filepath.Join(root, FileName)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Repo == "" {
		if remote, err := GitRemote(root); err == nil {
			cfg.Repo, _ = ParseRepoID(remote)
		}
	}
	if cfg.Token == "" {
		if cfg.Token = readTokenFile(filepath.Join(root, TokenFileName)); cfg.Token != "" {
			cfg.TokenSource = TokenFromFile
		}
	}

	if err := cfg.Checks.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.validatePolling(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validatePolling rejects settings that would let a build poll forever.
func (c *Config) validatePolling() error {
	if c.PollTimeout < 0 {
		return fmt.Errorf("%w: poll timeout %s is negative", provider.ErrConfig, c.PollTimeout)
	}
	if c.PollTimeout == 0 && c.MaxPolls == 0 {
		return fmt.Errorf("%w: polling needs a bound; set WHEELWRIGHT_POLL_TIMEOUT or WHEELWRIGHT_MAX_POLLS", provider.ErrConfig)
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", provider.ErrConfig, path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", provider.ErrConfig, path, err)
	}

	if fc.Repo != "" {
		c.Repo = fc.Repo
	}
	if fc.WheelsDir != "" {
		c.WheelsDir = c.resolve(fc.WheelsDir)
	}
	for _, d := range []struct {
		raw    string
		target *time.Duration
		name   string
	}{
		{fc.PollInterval, &c.PollInterval, "poll_interval"},
		{fc.PollMaxInterval, &c.PollMaxInterval, "poll_max_interval"},
		{fc.PollTimeout, &c.PollTimeout, "poll_timeout"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", provider.ErrConfig, d.name, err)
		}
		*d.target = v
	}
	if fc.MaxPolls > 0 {
		c.MaxPolls = fc.MaxPolls
	}
	if fc.Concurrency > 0 {
		c.Concurrency = fc.Concurrency
	}
	if len(fc.Checks) > 0 {
		c.Checks = nil
		for _, fch := range fc.Checks {
			c.Checks = append(c.Checks, provider.Check{ExternalKey: fch.Context, DisplayName: fch.Name})
		}
	}
	if fc.PostgresDSN != "" {
		c.PostgresDSN = fc.PostgresDSN
	}
	if len(fc.RedpandaBrokers) > 0 {
		c.RedpandaBrokers = fc.RedpandaBrokers
	}
	c.S3 = fc.S3
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("WHEELWRIGHT_WHEELS_DIR"); v != "" {
		c.WheelsDir = c.resolve(v)
	}
	if v := os.Getenv("WHEELWRIGHT_REPO"); v != "" {
		c.Repo = v
	}
	if v := os.Getenv("GITHUB_SECRET_TOKEN"); v != "" {
		c.Token = strings.TrimSpace(v)
		c.TokenSource = TokenFromEnv
	}

	var err error
	if c.PollInterval, err = getEnvDuration("WHEELWRIGHT_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.PollMaxInterval, err = getEnvDuration("WHEELWRIGHT_POLL_MAX_INTERVAL", c.PollMaxInterval); err != nil {
		return err
	}
	if c.PollTimeout, err = getEnvDuration("WHEELWRIGHT_POLL_TIMEOUT", c.PollTimeout); err != nil {
		return err
	}
	if c.MaxPolls, err = getEnvInt("WHEELWRIGHT_MAX_POLLS", c.MaxPolls); err != nil {
		return err
	}
	if c.Concurrency, err = getEnvInt("WHEELWRIGHT_CONCURRENCY", c.Concurrency); err != nil {
		return err
	}
	if v := os.Getenv("WHEELWRIGHT_CHECKS"); v != "" {
		if c.Checks, err = provider.ParseRegistry(v); err != nil {
			return err
		}
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("REDPANDA_BROKERS"); v != "" {
		c.RedpandaBrokers = splitList(v)
	}

	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = getEnv("S3_PREFIX", c.S3.Prefix)
	c.S3.Region = getEnv("S3_REGION", c.S3.Region)
	c.S3.DisableTLS = getEnvBool("S3_DISABLE_TLS", c.S3.DisableTLS)
	c.S3.ForcePathStyle = getEnvBool("S3_FORCE_PATH_STYLE", c.S3.ForcePathStyle)
	return nil
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// RequireRepo returns an error if no build repository is known.
func (c *Config) RequireRepo() error {
	if c.Repo == "" {
		return fmt.Errorf("%w: cannot determine the build repository; set WHEELWRIGHT_REPO", provider.ErrConfig)
	}
	if !repoIDPattern.MatchString(c.Repo) {
		return fmt.Errorf("%w: repository %q is not of the form user/repo", provider.ErrConfig, c.Repo)
	}
	return nil
}

// RequireToken returns an error if no GitHub token was found.
func (c *Config) RequireToken() error {
	if c.Token == "" {
		return fmt.Errorf("%w: no GitHub token; set GITHUB_SECRET_TOKEN or create %s", provider.ErrConfig, filepath.Join(c.Root, TokenFileName))
	}
	return nil
}

var (
	repoIDPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)
	sshRemote     = regexp.MustCompile(`^git@github\.com:(.*/.*)\.git$`)
	httpsRemote   = regexp.MustCompile(`^https://github\.com/(.*/.*)\.git$`)
)

// ParseRepoID extracts "user/repo" from an ssh or https GitHub remote.
func ParseRepoID(remote string) (string, bool) {
	for _, p := range []*regexp.Regexp{sshRemote, httpsRemote} {
		if m := p.FindStringSubmatch(strings.TrimSpace(remote)); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func readTokenFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", provider.ErrConfig, key, v)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", provider.ErrConfig, key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
