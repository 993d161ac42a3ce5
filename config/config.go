/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package config loads the softphone configuration with viper. The YAML
// file uses `softphone:` as root key and environment variables use the
// SOFTPHONE_ prefix (e.g. SOFTPHONE_LOG_LEVEL).
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tejzpr/crm-softphone/calling"
	"github.com/tejzpr/crm-softphone/calllogs"
	"github.com/tejzpr/crm-softphone/crmsdk"
	"github.com/tejzpr/crm-softphone/media"
	"github.com/tejzpr/crm-softphone/queues"
	"github.com/tejzpr/crm-softphone/scripts"
	"github.com/tejzpr/crm-softphone/sipua"
	"github.com/tejzpr/crm-softphone/tasks"
	"github.com/tejzpr/crm-softphone/tones"
	"github.com/tejzpr/crm-softphone/transfers"
)

// Config is the whole softphone configuration
type Config struct {
	SIP        SIPConfig        `mapstructure:"sip" yaml:"sip"`
	Media      MediaConfig      `mapstructure:"media" yaml:"media"`
	Tones      TonesConfig      `mapstructure:"tones" yaml:"tones"`
	Backend    BackendConfig    `mapstructure:"backend" yaml:"backend"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
}

// SIPConfig is the signaling account and user agent
type SIPConfig struct {
	Identity       string        `mapstructure:"identity" yaml:"identity"`
	Credential     string        `mapstructure:"credential" yaml:"credential"`
	Domain         string        `mapstructure:"domain" yaml:"domain"`
	Registrar      string        `mapstructure:"registrar" yaml:"registrar"`
	Transport      string        `mapstructure:"transport" yaml:"transport"`
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ContactHost    string        `mapstructure:"contact_host" yaml:"contact_host"`
	ContactPort    int           `mapstructure:"contact_port" yaml:"contact_port"`
	DisplayName    string        `mapstructure:"display_name" yaml:"display_name"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Expiry         time.Duration `mapstructure:"expiry" yaml:"expiry"`
	RefreshRatio   float64       `mapstructure:"refresh_ratio" yaml:"refresh_ratio"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	DTMFDuration   time.Duration `mapstructure:"dtmf_duration" yaml:"dtmf_duration"`
}

// MediaConfig is the WebRTC peer and the local audio devices
type MediaConfig struct {
	ICEServers    []string      `mapstructure:"ice_servers" yaml:"ice_servers"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout" yaml:"gather_timeout"`
	// MicrophoneWAV is looped as the capture device. Empty sends silence.
	MicrophoneWAV string `mapstructure:"microphone_wav" yaml:"microphone_wav"`
	// OutputWAV records remote audio. Empty discards it.
	OutputWAV string `mapstructure:"output_wav" yaml:"output_wav"`
	// ToneWAV records the local ring, ringback and busy tones. Empty
	// discards them.
	ToneWAV string `mapstructure:"tone_wav" yaml:"tone_wav"`
}

// TonesConfig is the ringtone, ringback and busy tone setup
type TonesConfig struct {
	RingPath      string        `mapstructure:"ring_path" yaml:"ring_path"`
	RingbackPath  string        `mapstructure:"ringback_path" yaml:"ringback_path"`
	BusyPath      string        `mapstructure:"busy_path" yaml:"busy_path"`
	FrequencyHz   float64       `mapstructure:"frequency_hz" yaml:"frequency_hz"`
	Amplitude     float64       `mapstructure:"amplitude" yaml:"amplitude"`
	BusyCycles    int           `mapstructure:"busy_cycles" yaml:"busy_cycles"`
	FrameInterval time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
}

// BackendConfig is the CRM REST backend
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Token          string        `mapstructure:"token" yaml:"token"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`

	CallLogsPath    string        `mapstructure:"call_logs_path" yaml:"call_logs_path"`
	QueueStatePath  string        `mapstructure:"queue_state_path" yaml:"queue_state_path"`
	QueueStreamPath string        `mapstructure:"queue_stream_path" yaml:"queue_stream_path"`
	TransferPath    string        `mapstructure:"transfer_path" yaml:"transfer_path"`
	ScriptsPath     string        `mapstructure:"scripts_path" yaml:"scripts_path"`
	TasksPath       string        `mapstructure:"tasks_path" yaml:"tasks_path"`
	TaskDefaultDue  time.Duration `mapstructure:"task_default_due" yaml:"task_default_due"`

	// TransferVia is "backend" (REST) or "sip" (REFER)
	TransferVia string `mapstructure:"transfer_via" yaml:"transfer_via"`
}

// LogConfig is the logger setup
type LogConfig struct {
	Level  string        `mapstructure:"level" yaml:"level"`
	Format string        `mapstructure:"format" yaml:"format"`
	File   LogFileConfig `mapstructure:"file" yaml:"file"`
}

// LogFileConfig is the optional rotating log file
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig is the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ControllerConfig is the call controller's timeouts and policies
type ControllerConfig struct {
	PermissionTimeout   time.Duration `mapstructure:"permission_timeout" yaml:"permission_timeout"`
	ClipboardTimeout    time.Duration `mapstructure:"clipboard_timeout" yaml:"clipboard_timeout"`
	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout" yaml:"collaborator_timeout"`
	TickInterval        time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	AutoLogCalls        bool          `mapstructure:"auto_log_calls" yaml:"auto_log_calls"`
	DefaultTransferType string        `mapstructure:"default_transfer_type" yaml:"default_transfer_type"`
}

type configRoot struct {
	Softphone Config `mapstructure:"softphone"`
}

const root = "softphone"

// Load reads path and applies environment overrides. An empty path loads
// the defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var r configRoot
	if err := v.Unmarshal(&r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := r.Softphone
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without file or environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var r configRoot
	if err := v.Unmarshal(&r); err != nil {
		return &Config{}
	}
	return &r.Softphone
}

func setDefaults(v *viper.Viper) {
	sip := sipua.DefaultConfig()
	v.SetDefault(root+".sip.identity", "")
	v.SetDefault(root+".sip.credential", "")
	v.SetDefault(root+".sip.domain", "")
	v.SetDefault(root+".sip.registrar", "")
	v.SetDefault(root+".sip.transport", sip.Transport)
	v.SetDefault(root+".sip.listen_addr", sip.ListenAddr)
	v.SetDefault(root+".sip.contact_host", "")
	v.SetDefault(root+".sip.contact_port", sip.ContactPort)
	v.SetDefault(root+".sip.display_name", "")
	v.SetDefault(root+".sip.user_agent", sip.UserAgent)
	v.SetDefault(root+".sip.expiry", sip.Expiry)
	v.SetDefault(root+".sip.refresh_ratio", sip.RefreshRatio)
	v.SetDefault(root+".sip.request_timeout", sip.RequestTimeout)
	v.SetDefault(root+".sip.dtmf_duration", sip.DTMFDuration)

	peer := media.DefaultPeerConfig()
	v.SetDefault(root+".media.ice_servers", peer.ICEServers)
	v.SetDefault(root+".media.gather_timeout", peer.GatherTimeout)
	v.SetDefault(root+".media.microphone_wav", "")
	v.SetDefault(root+".media.output_wav", "")
	v.SetDefault(root+".media.tone_wav", "")

	tone := tones.DefaultConfig()
	v.SetDefault(root+".tones.ring_path", "")
	v.SetDefault(root+".tones.ringback_path", "")
	v.SetDefault(root+".tones.busy_path", "")
	v.SetDefault(root+".tones.frequency_hz", tone.FrequencyHz)
	v.SetDefault(root+".tones.amplitude", tone.Amplitude)
	v.SetDefault(root+".tones.busy_cycles", tone.BusyCycles)
	v.SetDefault(root+".tones.frame_interval", tone.FrameInterval)

	core := crmsdk.DefaultConfig()
	queue := queues.DefaultConfig()
	task := tasks.DefaultConfig()
	v.SetDefault(root+".backend.base_url", core.BaseURL)
	v.SetDefault(root+".backend.token", "")
	v.SetDefault(root+".backend.timeout", core.Timeout)
	v.SetDefault(root+".backend.max_retries", core.MaxRetries)
	v.SetDefault(root+".backend.retry_base_delay", core.RetryBaseDelay)
	v.SetDefault(root+".backend.call_logs_path", calllogs.DefaultConfig().Path)
	v.SetDefault(root+".backend.queue_state_path", queue.StatePath)
	v.SetDefault(root+".backend.queue_stream_path", queue.StreamPath)
	v.SetDefault(root+".backend.transfer_path", transfers.DefaultConfig().Path)
	v.SetDefault(root+".backend.scripts_path", scripts.DefaultConfig().TreePath)
	v.SetDefault(root+".backend.tasks_path", task.Path)
	v.SetDefault(root+".backend.task_default_due", task.DefaultDue)
	v.SetDefault(root+".backend.transfer_via", "backend")

	v.SetDefault(root+".log.level", "info")
	v.SetDefault(root+".log.format", "text")
	v.SetDefault(root+".log.file.enabled", false)
	v.SetDefault(root+".log.file.path", "softphone.log")
	v.SetDefault(root+".log.file.max_size_mb", 50)
	v.SetDefault(root+".log.file.max_backups", 3)
	v.SetDefault(root+".log.file.max_age_days", 14)
	v.SetDefault(root+".log.file.compress", true)

	v.SetDefault(root+".metrics.enabled", false)
	v.SetDefault(root+".metrics.listen", "127.0.0.1:9465")
	v.SetDefault(root+".metrics.path", "/metrics")

	ctrl := calling.DefaultConfig()
	v.SetDefault(root+".controller.permission_timeout", ctrl.PermissionTimeout)
	v.SetDefault(root+".controller.clipboard_timeout", ctrl.ClipboardTimeout)
	v.SetDefault(root+".controller.collaborator_timeout", ctrl.CollaboratorTimeout)
	v.SetDefault(root+".controller.tick_interval", ctrl.TickInterval)
	v.SetDefault(root+".controller.auto_log_calls", ctrl.AutoLogCalls)
	v.SetDefault(root+".controller.default_transfer_type", string(ctrl.DefaultTransferType))
}

// Validate checks values the components cannot fix up themselves
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", c.Log.Format)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	switch c.SIP.Transport {
	case "udp", "tcp", "ws", "wss":
	default:
		return fmt.Errorf("unsupported sip.transport: %s (must be udp/tcp/ws/wss)", c.SIP.Transport)
	}
	if c.SIP.RefreshRatio <= 0 || c.SIP.RefreshRatio > 1 {
		return fmt.Errorf("sip.refresh_ratio must be in (0, 1], got %v", c.SIP.RefreshRatio)
	}
	if c.SIP.Expiry <= 0 {
		return fmt.Errorf("sip.expiry must be positive")
	}

	if _, err := url.Parse(c.Backend.BaseURL); err != nil || c.Backend.BaseURL == "" {
		return fmt.Errorf("invalid backend.base_url: %q", c.Backend.BaseURL)
	}
	if c.Backend.TransferVia != "backend" && c.Backend.TransferVia != "sip" {
		return fmt.Errorf("invalid backend.transfer_via: %s (must be backend/sip)", c.Backend.TransferVia)
	}

	if !transfers.Type(c.Controller.DefaultTransferType).Valid() {
		return fmt.Errorf("invalid controller.default_transfer_type: %s", c.Controller.DefaultTransferType)
	}
	if c.Controller.TickInterval <= 0 {
		return fmt.Errorf("controller.tick_interval must be positive")
	}

	if c.Media.OutputWAV != "" && c.Media.OutputWAV == c.Media.ToneWAV {
		return fmt.Errorf("media.tone_wav must differ from media.output_wav")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}
	return nil
}

// AdapterConfig converts the SIP section for sipua
func (c *SIPConfig) AdapterConfig() *sipua.Config {
	return &sipua.Config{
		Domain:         c.Domain,
		Registrar:      c.Registrar,
		Transport:      c.Transport,
		ListenAddr:     c.ListenAddr,
		ContactHost:    c.ContactHost,
		ContactPort:    c.ContactPort,
		DisplayName:    c.DisplayName,
		UserAgent:      c.UserAgent,
		Expiry:         c.Expiry,
		RefreshRatio:   c.RefreshRatio,
		RequestTimeout: c.RequestTimeout,
		DTMFDuration:   c.DTMFDuration,
	}
}

// PeerConfig converts the media section for media.PeerFactory
func (c *MediaConfig) PeerConfig() *media.PeerConfig {
	return &media.PeerConfig{
		ICEServers:    append([]string(nil), c.ICEServers...),
		GatherTimeout: c.GatherTimeout,
	}
}

// GeneratorConfig converts the tones section
func (c *TonesConfig) GeneratorConfig() *tones.Config {
	return &tones.Config{
		RingPath:      c.RingPath,
		RingbackPath:  c.RingbackPath,
		BusyPath:      c.BusyPath,
		FrequencyHz:   c.FrequencyHz,
		Amplitude:     c.Amplitude,
		BusyCycles:    c.BusyCycles,
		FrameInterval: c.FrameInterval,
	}
}

// CoreConfig converts the backend section for crmsdk
func (c *BackendConfig) CoreConfig(userAgent string) *crmsdk.Config {
	core := crmsdk.DefaultConfig()
	core.BaseURL = c.BaseURL
	core.Timeout = c.Timeout
	core.MaxRetries = c.MaxRetries
	core.RetryBaseDelay = c.RetryBaseDelay
	if userAgent != "" {
		core.UserAgent = userAgent
	}
	return core
}

// QueuesConfig converts the queue paths
func (c *BackendConfig) QueuesConfig() *queues.Config {
	q := queues.DefaultConfig()
	q.StatePath = c.QueueStatePath
	q.StreamPath = c.QueueStreamPath
	return q
}

// TasksConfig converts the task settings
func (c *BackendConfig) TasksConfig() *tasks.Config {
	return &tasks.Config{Path: c.TasksPath, DefaultDue: c.TaskDefaultDue}
}

// CallingConfig converts the controller section
func (c *ControllerConfig) CallingConfig() *calling.Config {
	return &calling.Config{
		PermissionTimeout:   c.PermissionTimeout,
		ClipboardTimeout:    c.ClipboardTimeout,
		CollaboratorTimeout: c.CollaboratorTimeout,
		TickInterval:        c.TickInterval,
		AutoLogCalls:        c.AutoLogCalls,
		DefaultTransferType: transfers.Type(c.DefaultTransferType),
	}
}
