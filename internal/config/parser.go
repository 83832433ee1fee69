// Package config resolves command line flags, environment variables and an
// optional YAML file into a backup configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fgeck/rsync-system-backup/internal/destination"
	"github.com/fgeck/rsync-system-backup/internal/errdefs"
	"github.com/fgeck/rsync-system-backup/internal/models"
)

// EnvPrefix prefixes environment variables, e.g. RSB_DRY_RUN.
const EnvPrefix = "RSB"

// ModulePathEnv is set by the rsync daemon before it runs a post-xfer
// exec command. It supplies the destination when none is given.
const ModulePathEnv = "RSYNC_MODULE_PATH"

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"backup":                   "backup",
	"snapshot":                 "snapshot",
	"rotate":                   "rotate",
	"mount":                    "mount",
	"crypto":                   "crypto",
	"crypttab":                 "crypttab",
	"tunnel":                   "tunnel",
	"tunnel-local-port":        "tunnel_local_port",
	"ionice":                   "ionice",
	"no-sudo":                  "no_sudo",
	"dry-run":                  "dry_run",
	"multi-fs":                 "multi_fs",
	"exclude":                  "exclude",
	"no-default-excludes":      "no_default_excludes",
	"rotation":                 "rotation",
	"disable-notifications":    "disable_notifications",
	"rsync-verbose":            "rsync_verbose",
	"progress":                 "rsync_progress",
	"force":                    "force",
	"ssh-key":                  "ssh.key_path",
	"ssh-port":                 "ssh.port",
	"known-hosts":              "ssh.known_hosts",
	"insecure-ignore-host-key": "ssh.insecure_ignore_host_key",
}

// Parser handles configuration parsing.
type Parser struct {
	v      *viper.Viper
	getenv func(string) string
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	return NewParserWithEnv(os.Getenv)
}

// NewParserWithEnv creates a parser that reads RSYNC_MODULE_PATH and
// ${VAR} references through getenv (for testing).
func NewParserWithEnv(getenv func(string) string) *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("source", models.DefaultSource)
	v.SetDefault("crypttab", models.DefaultCrypttabPath)

	return &Parser{v: v, getenv: getenv}
}

// BindFlags binds the flags named in FlagKeys. Flags missing from fs are
// skipped.
func (p *Parser) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := p.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// SetArgs applies the positional arguments: [SOURCE] DESTINATION.
func (p *Parser) SetArgs(args []string) error {
	switch len(args) {
	case 0:
	case 1:
		p.v.Set("destination", args[0])
	case 2:
		p.v.Set("source", args[0])
		p.v.Set("destination", args[1])
	default:
		return fmt.Errorf("expected one or two positional arguments, got %d", len(args))
	}
	return nil
}

// LoadFile loads configuration from a file path and resolves it.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.Resolve()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.Resolve()
}

// Resolve builds the configuration from the sources loaded so far. Fields
// are resolved top to bottom; later fields may depend on earlier ones.
//
//nolint:gocognit,gocyclo // resolving config requires checking many fields
func (p *Parser) Resolve() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	p.resolvePhases(cfg)

	cfg.DryRun = p.v.GetBool("dry_run")
	cfg.NotificationsEnabled = !cfg.DryRun
	if p.v.IsSet("disable_notifications") {
		cfg.NotificationsEnabled = !p.v.GetBool("disable_notifications")
	}

	cfg.Source = p.v.GetString("source")
	if cfg.Source == "" {
		cfg.Source = models.DefaultSource
	}

	expr := p.v.GetString("destination")
	if expr == "" {
		expr = p.getenv(ModulePathEnv)
	}
	if expr == "" {
		return nil, fmt.Errorf("%w: pass it as an argument or set $%s", errdefs.ErrMissingDestination, ModulePathEnv)
	}
	dest, err := destination.Parse(expr)
	if err != nil {
		return nil, err
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	cfg.Destination = dest

	cfg.SSH = models.SSHConfig{
		Host:           dest.Hostname,
		Port:           p.v.GetInt("ssh.port"),
		Username:       dest.Username,
		KeyPath:        p.expandEnv(p.v.GetString("ssh.key_path")),
		KnownHostsPath: p.expandEnv(p.v.GetString("ssh.known_hosts")),

		InsecureIgnoreHostKey: p.v.GetBool("ssh.insecure_ignore_host_key"),
	}

	if tunnel := p.v.GetString("tunnel"); tunnel != "" {
		if !dest.IsDaemon() {
			return nil, fmt.Errorf("%w: a tunnel requires an rsync daemon destination, got %q", errdefs.ErrInvalidDestination, expr)
		}
		cfg.Tunnel, err = parseTunnel(tunnel)
		if err != nil {
			return nil, err
		}
		cfg.Tunnel.LocalPort = p.v.GetInt("tunnel_local_port")
	}

	cfg.CryptoDevice = p.v.GetString("crypto")
	cfg.MountPoint = p.v.GetString("mount")
	cfg.CrypttabPath = p.v.GetString("crypttab")

	if !p.v.GetBool("no_default_excludes") {
		cfg.ExcludePatterns = append(cfg.ExcludePatterns, models.DefaultExcludes...)
	}
	cfg.ExcludePatterns = append(cfg.ExcludePatterns, p.v.GetStringSlice("exclude")...)

	cfg.RotationScheme = models.DefaultRotationScheme()
	if p.v.IsSet("rotation") {
		cfg.RotationScheme, err = ParseRotationScheme(p.v.GetStringMapString("rotation"))
		if err != nil {
			return nil, err
		}
	}

	cfg.IONice, err = ParseIONiceClass(p.v.GetString("ionice"))
	if err != nil {
		return nil, err
	}

	cfg.SudoEnabled = !p.v.GetBool("no_sudo")
	cfg.MultiFS = p.v.GetBool("multi_fs")
	cfg.RsyncVerbosity = p.v.GetInt("rsync_verbose")
	cfg.RsyncProgress = p.v.GetBool("rsync_progress")
	cfg.Force = p.v.GetBool("force")

	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	if p.v.IsSet("metrics") {
		cfg.Metrics = &models.MetricsConfig{
			PushgatewayURL: p.expandEnv(p.v.GetString("metrics.pushgateway_url")),
			Job:            p.v.GetString("metrics.job"),
		}
		if cfg.Metrics.PushgatewayURL == "" {
			return nil, fmt.Errorf("metrics.pushgateway_url is required when metrics is configured")
		}
	}

	if p.v.IsSet("wol") {
		cfg.WOL, err = p.resolveWOL(cfg)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// resolvePhases enables all phases unless at least one was explicitly
// enabled, in which case only the explicitly enabled phases run.
func (p *Parser) resolvePhases(cfg *models.BackupConfig) {
	explicit := p.v.GetBool("backup") || p.v.GetBool("snapshot") || p.v.GetBool("rotate")
	enabled := func(key string) bool {
		if explicit || p.v.IsSet(key) {
			return p.v.GetBool(key)
		}
		return true
	}
	cfg.BackupEnabled = enabled("backup")
	cfg.SnapshotEnabled = enabled("snapshot")
	cfg.RotateEnabled = enabled("rotate")
}

func (p *Parser) resolveWOL(cfg *models.BackupConfig) (*models.WOLConfig, error) {
	wol := &models.WOLConfig{
		MACAddress:    p.v.GetString("wol.mac_address"),
		BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
		Timeout:       p.v.GetDuration("wol.timeout"),
		PollInterval:  p.v.GetDuration("wol.poll_interval"),
		StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
	}

	if wol.MACAddress == "" {
		return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
	}

	if wol.BroadcastIP == "" {
		wol.BroadcastIP = "255.255.255.255"
	}
	if wol.Timeout == 0 {
		wol.Timeout = 5 * time.Minute
	}
	if wol.PollInterval == 0 {
		wol.PollInterval = 10 * time.Second
	}
	if wol.StabilizeWait == 0 {
		wol.StabilizeWait = 10 * time.Second
	}

	// Wait for the service rsync is going to talk to.
	host, port := cfg.Destination.Hostname, 0
	switch {
	case cfg.Tunnel != nil:
		host, port = cfg.Tunnel.Host, cfg.Tunnel.Port
		if port == 0 {
			port = 22
		}
	case cfg.Destination.IsDaemon():
		port = cfg.Destination.Port()
	default:
		port = cfg.SSH.Port
		if port == 0 {
			port = 22
		}
	}
	if p.v.IsSet("wol.wait_port") {
		port = p.v.GetInt("wol.wait_port")
	}
	if host != "" && port > 0 {
		wol.WaitAddress = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return wol, nil
}

// ParseIONiceClass normalizes and validates an I/O scheduling class. The
// empty string means no class.
func ParseIONiceClass(value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", nil
	}
	for _, class := range models.IONiceClasses {
		if value == class {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %q (expected one of %s)", errdefs.ErrInvalidIONiceClass, value, strings.Join(models.IONiceClasses, ", "))
}

// ParseRotationScheme converts period names and counts ("always" keeps
// every snapshot of the period) into a rotation scheme.
func ParseRotationScheme(values map[string]string) (models.RotationScheme, error) {
	scheme := models.RotationScheme{}
	periods := make([]string, 0, len(values))
	for period := range values {
		periods = append(periods, period)
	}
	sort.Strings(periods)

	for _, period := range periods {
		if !validPeriod(period) {
			return nil, fmt.Errorf("unknown rotation period %q (expected one of %s)", period, strings.Join(models.RotationPeriods, ", "))
		}
		value := strings.ToLower(strings.TrimSpace(values[period]))
		if value == "always" {
			scheme[period] = models.RetainAlways
			continue
		}
		count, err := strconv.Atoi(value)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("invalid count %q for rotation period %s", values[period], period)
		}
		scheme[period] = count
	}
	return scheme, nil
}

func validPeriod(period string) bool {
	for _, p := range models.RotationPeriods {
		if p == period {
			return true
		}
	}
	return false
}

// parseTunnel parses [USER@]HOST[:PORT].
func parseTunnel(expr string) (*models.TunnelConfig, error) {
	t := &models.TunnelConfig{}
	hostPort := expr
	if user, rest, ok := strings.Cut(expr, "@"); ok {
		t.Username, hostPort = user, rest
	}
	t.Host = hostPort
	if strings.Contains(hostPort, ":") {
		host, port, err := net.SplitHostPort(hostPort)
		if err != nil {
			return nil, fmt.Errorf("invalid tunnel %q: %w", expr, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("invalid tunnel port in %q", expr)
		}
		t.Host, t.Port = host, n
	}
	if t.Host == "" {
		return nil, fmt.Errorf("invalid tunnel %q: missing host", expr)
	}
	return t, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.Expand(s, p.getenv)
}

// Validate performs validation on a resolved configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Destination == nil {
		return errdefs.ErrMissingDestination
	}

	if err := cfg.Destination.Validate(); err != nil {
		return err
	}

	if !cfg.BackupEnabled && !cfg.SnapshotEnabled && !cfg.RotateEnabled {
		return fmt.Errorf("no actions enabled")
	}

	if _, err := ParseIONiceClass(cfg.IONice); err != nil {
		return err
	}

	return nil
}
