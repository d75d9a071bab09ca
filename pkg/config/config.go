// Copyright 2024-2026 Aiku AI

// Package config loads the relay configuration from YAML, the environment
// and AWS SSM.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/gateway"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
	"github.com/aiku/wa-mattermost-relay/pkg/mattermost"
	"github.com/aiku/wa-mattermost-relay/pkg/media"
	"github.com/aiku/wa-mattermost-relay/pkg/presence"
	"github.com/aiku/wa-mattermost-relay/pkg/relay"
)

//go:embed example-config.yaml
var ExampleConfig string

// ErrConfigurationMissing is returned by Validate when required settings are
// absent or still hold the example placeholders.
var ErrConfigurationMissing = errors.New("configuration missing")

const placeholderMarker = "YOUR_"

// Config is the whole relay configuration.
type Config struct {
	Mattermost MattermostConfig `yaml:"mattermost" envPrefix:"MATTERMOST_"`
	Gateway    GatewayConfig    `yaml:"gateway" envPrefix:"GATEWAY_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Media      MediaConfig      `yaml:"media" envPrefix:"MEDIA_"`
	Presence   PresenceConfig   `yaml:"presence"`
	Relay      RelayConfig      `yaml:"relay"`
	Features   FeaturesConfig   `yaml:"features" envPrefix:"FEATURES_"`
	Admin      AdminConfig      `yaml:"admin" envPrefix:"ADMIN_"`
	SSM        SSMConfig        `yaml:"ssm" envPrefix:"SSM_"`

	Logging zeroconfig.Config `yaml:"logging"`
}

type MattermostConfig struct {
	ServerURL       string        `yaml:"server_url" env:"SERVER_URL"`
	Token           string        `yaml:"token" env:"TOKEN"`
	TeamID          string        `yaml:"team_id" env:"TEAM_ID"`
	PrivateChannels bool          `yaml:"private_channels" env:"PRIVATE_CHANNELS"`
	ChannelPrefix   string        `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
	BotPrefix       string        `yaml:"bot_prefix" env:"BOT_PREFIX"`
	LogChannelID    string        `yaml:"log_channel_id" env:"LOG_CHANNEL_ID"`
	ReconnectMin    time.Duration `yaml:"reconnect_min"`
	ReconnectMax    time.Duration `yaml:"reconnect_max"`
}

type GatewayConfig struct {
	URL              string        `yaml:"url" env:"URL"`
	EventsExchange   string        `yaml:"events_exchange"`
	EventsQueue      string        `yaml:"events_queue" env:"EVENTS_QUEUE"`
	EventsBindingKey string        `yaml:"events_binding_key"`
	CommandsExchange string        `yaml:"commands_exchange"`
	Producer         string        `yaml:"producer"`
	PublishPoolSize  int           `yaml:"publish_pool_size"`
	ConsumerPrefetch int           `yaml:"consumer_prefetch"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	Retry            struct {
		MaxAttempts int           `yaml:"max_attempts"`
		Delay       time.Duration `yaml:"delay"`
	} `yaml:"retry"`
}

type StorageConfig struct {
	Backend    string        `yaml:"backend" env:"BACKEND"`
	Path       string        `yaml:"path" env:"PATH"`
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database"`
	Table      string        `yaml:"table"`
	KeyPrefix  string        `yaml:"key_prefix"`
	Region     string        `yaml:"region"`
	PutTimeout time.Duration `yaml:"put_timeout"`
}

type MediaConfig struct {
	TempDir             string `yaml:"temp_dir" env:"TEMP_DIR"`
	MaxSize             int64  `yaml:"max_size" env:"MAX_SIZE"`
	VideoNoteSize       int    `yaml:"video_note_size"`
	VideoNoteMaxSeconds int    `yaml:"video_note_max_seconds"`
}

type PresenceConfig struct {
	ComposingInterval time.Duration `yaml:"composing_interval"`
	PausedAfter       time.Duration `yaml:"paused_after"`
	ReadDebounce      time.Duration `yaml:"read_debounce"`
}

type RelayConfig struct {
	CallDedupWindow time.Duration `yaml:"call_dedup_window"`
	StatusReplyTTL  time.Duration `yaml:"status_reply_ttl"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

type FeaturesConfig struct {
	ReadReceipts        bool `yaml:"read_receipts" env:"READ_RECEIPTS"`
	Presence            bool `yaml:"presence" env:"PRESENCE"`
	CallLogs            bool `yaml:"call_logs" env:"CALL_LOGS"`
	StatusUpdates       bool `yaml:"status_updates" env:"STATUS_UPDATES"`
	Reactions           bool `yaml:"reactions" env:"REACTIONS"`
	OutgoingSideEffects bool `yaml:"outgoing_side_effects" env:"OUTGOING_SIDE_EFFECTS"`
}

type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// SSMConfig names SSM parameters whose values replace secrets in the file.
type SSMConfig struct {
	Region               string `yaml:"region" env:"REGION"`
	MattermostTokenParam string `yaml:"mattermost_token_param" env:"MATTERMOST_TOKEN_PARAM"`
	GatewayURLParam      string `yaml:"gateway_url_param" env:"GATEWAY_URL_PARAM"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess normalizes values after loading.
func (c *Config) PostProcess() {
	c.Mattermost.ServerURL = strings.TrimRight(strings.TrimSpace(c.Mattermost.ServerURL), "/")
	c.Mattermost.Token = strings.TrimSpace(c.Mattermost.Token)
	if strings.Contains(c.Mattermost.LogChannelID, placeholderMarker) {
		c.Mattermost.LogChannelID = ""
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
}

// Validate reports every required setting that is missing or still a
// placeholder. The error wraps ErrConfigurationMissing.
func (c *Config) Validate() error {
	var missing []string
	check := func(key, value string) {
		if value == "" || strings.Contains(value, placeholderMarker) {
			missing = append(missing, key)
		}
	}
	check("mattermost.server_url", c.Mattermost.ServerURL)
	check("mattermost.token", c.Mattermost.Token)
	check("mattermost.team_id", c.Mattermost.TeamID)
	check("gateway.url", c.Gateway.URL)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	if _, err := mapping.SelectBackend(c.Storage.Backend); err != nil {
		return err
	}
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "team_id")
	helper.Copy(up.Bool, "mattermost", "private_channels")
	helper.Copy(up.Str, "mattermost", "channel_prefix")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Str, "mattermost", "log_channel_id")
	helper.Copy(up.Str, "mattermost", "reconnect_min")
	helper.Copy(up.Str, "mattermost", "reconnect_max")

	helper.Copy(up.Str, "gateway", "url")
	helper.Copy(up.Str, "gateway", "events_exchange")
	helper.Copy(up.Str, "gateway", "events_queue")
	helper.Copy(up.Str, "gateway", "events_binding_key")
	helper.Copy(up.Str, "gateway", "commands_exchange")
	helper.Copy(up.Str, "gateway", "producer")
	helper.Copy(up.Int, "gateway", "publish_pool_size")
	helper.Copy(up.Int, "gateway", "consumer_prefetch")
	helper.Copy(up.Str, "gateway", "query_timeout")
	helper.Copy(up.Int, "gateway", "retry", "max_attempts")
	helper.Copy(up.Str, "gateway", "retry", "delay")

	helper.Copy(up.Str, "storage", "backend")
	helper.Copy(up.Str, "storage", "path")
	helper.Copy(up.Str, "storage", "uri")
	helper.Copy(up.Str, "storage", "database")
	helper.Copy(up.Str, "storage", "table")
	helper.Copy(up.Str, "storage", "key_prefix")
	helper.Copy(up.Str, "storage", "region")
	helper.Copy(up.Str, "storage", "put_timeout")

	helper.Copy(up.Str, "media", "temp_dir")
	helper.Copy(up.Int, "media", "max_size")
	helper.Copy(up.Int, "media", "video_note_size")
	helper.Copy(up.Int, "media", "video_note_max_seconds")

	helper.Copy(up.Str, "presence", "composing_interval")
	helper.Copy(up.Str, "presence", "paused_after")
	helper.Copy(up.Str, "presence", "read_debounce")

	helper.Copy(up.Str, "relay", "call_dedup_window")
	helper.Copy(up.Str, "relay", "status_reply_ttl")
	helper.Copy(up.Str, "relay", "shutdown_grace")

	for _, feature := range []string{"read_receipts", "presence", "call_logs", "status_updates", "reactions", "outgoing_side_effects"} {
		helper.Copy(up.Bool, "features", feature)
	}

	helper.Copy(up.Str, "admin", "listen_addr")

	helper.Copy(up.Str, "ssm", "region")
	helper.Copy(up.Str, "ssm", "mattermost_token_param")
	helper.Copy(up.Str, "ssm", "gateway_url_param")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user config onto the embedded example.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"gateway"},
			{"storage"},
			{"media"},
			{"presence"},
			{"relay"},
			{"features"},
			{"admin"},
			{"ssm"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

func (c *Config) MattermostClientConfig() mattermost.Config {
	return mattermost.Config{
		ServerURL:       c.Mattermost.ServerURL,
		Token:           c.Mattermost.Token,
		TeamID:          c.Mattermost.TeamID,
		PrivateChannels: c.Mattermost.PrivateChannels,
		BotPrefix:       c.Mattermost.BotPrefix,
		ReconnectMin:    c.Mattermost.ReconnectMin,
		ReconnectMax:    c.Mattermost.ReconnectMax,
	}
}

func (c *Config) GatewayClientConfig() gateway.Config {
	cfg := gateway.Config{
		URL:              c.Gateway.URL,
		EventsExchange:   c.Gateway.EventsExchange,
		EventsQueue:      c.Gateway.EventsQueue,
		EventsBindingKey: c.Gateway.EventsBindingKey,
		CommandsExchange: c.Gateway.CommandsExchange,
		Producer:         c.Gateway.Producer,
		PublishPoolSize:  c.Gateway.PublishPoolSize,
		ConsumerPrefetch: c.Gateway.ConsumerPrefetch,
		QueryTimeout:     c.Gateway.QueryTimeout,
	}
	if c.Gateway.Retry.MaxAttempts > 0 {
		cfg.Retry = gateway.RetrySpec{
			Enabled:     true,
			TTL:         c.Gateway.Retry.Delay,
			MaxAttempts: c.Gateway.Retry.MaxAttempts,
		}
	}
	return cfg
}

func (c *Config) BackendConfig() mapping.BackendConfig {
	return mapping.BackendConfig{
		URI:       c.Storage.URI,
		Path:      c.Storage.Path,
		Database:  c.Storage.Database,
		Table:     c.Storage.Table,
		KeyPrefix: c.Storage.KeyPrefix,
		Region:    c.Storage.Region,
	}
}

func (c *Config) MediaConfig() media.Config {
	return media.Config{
		TempDir:             c.Media.TempDir,
		MaxSize:             c.Media.MaxSize,
		VideoNoteSize:       c.Media.VideoNoteSize,
		VideoNoteMaxSeconds: c.Media.VideoNoteMaxSeconds,
	}
}

func (c *Config) PresenceConfig() presence.Config {
	return presence.Config{
		ComposingInterval: c.Presence.ComposingInterval,
		PausedAfter:       c.Presence.PausedAfter,
		ReadDebounce:      c.Presence.ReadDebounce,
	}
}

func (c *Config) RelayFeatures() relay.Features {
	return relay.Features{
		ReadReceipts:        c.Features.ReadReceipts,
		Presence:            c.Features.Presence,
		CallLogs:            c.Features.CallLogs,
		StatusUpdates:       c.Features.StatusUpdates,
		Reactions:           c.Features.Reactions,
		OutgoingSideEffects: c.Features.OutgoingSideEffects,
	}
}

// LogThread is the channel receiving connection notices, if any.
func (c *Config) LogThread() bridge.ThreadID {
	return bridge.ThreadID(c.Mattermost.LogChannelID)
}
