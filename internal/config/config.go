package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

var (
	ErrInvalidBufferConfig        = errors.New("buffered amount low threshold must be less than max buffered amount")
	ErrInvalidChunkSize           = errors.New("chunk size must be greater than 0 and at most the max buffered amount")
	ErrInvalidStoreRoot           = errors.New("store root must be set")
	ErrInvalidFirebaseConfig      = errors.New("Firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
)

// Config holds all application configuration
type Config struct {
	WebRTC   WebRTCConfig   `mapstructure:"webrtc" json:"webrtc"`
	Firebase FirebaseConfig `mapstructure:"firebase" json:"firebase"`
	Transfer TransferConfig `mapstructure:"transfer" json:"transfer"`
	Store    StoreConfig    `mapstructure:"store" json:"store"`
	Encoder  EncoderConfig  `mapstructure:"encoder" json:"encoder"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers                 []webrtc.ICEServer `mapstructure:"ice_servers" json:"ice_servers"`
	BufferedAmountLowThreshold uint64             `mapstructure:"buffered_amount_low_threshold" json:"buffered_amount_low_threshold"`
	MaxBufferedAmount          uint64             `mapstructure:"max_buffered_amount" json:"max_buffered_amount" validate:"gt=0"`
	ReadyTimeout               time.Duration      `mapstructure:"ready_timeout" json:"ready_timeout" validate:"gte=0"`
}

// FirebaseConfig holds Firebase client configuration
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id" json:"project_id"`
	DatabaseURL     string `mapstructure:"database_url" json:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path" json:"credentials_path"`
}

// TransferConfig controls the chunked upload protocol
type TransferConfig struct {
	// ChunkSize is a fixed constant, never negotiated with the remote
	ChunkSize int `mapstructure:"chunk_size" json:"chunk_size" validate:"gt=0"`
	// AckTimeout bounds the announce and completion acknowledgements. Zero waits forever.
	AckTimeout time.Duration `mapstructure:"ack_timeout" json:"ack_timeout" validate:"gte=0"`
	// DisableOnReject deactivates an entry the remote rejected so it is not retried
	// until someone enables it again
	DisableOnReject bool `mapstructure:"disable_on_reject" json:"disable_on_reject"`
}

// StoreConfig holds the local content store settings
type StoreConfig struct {
	Root          string `mapstructure:"root" json:"root"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" json:"max_upload_size" validate:"gt=0"`
}

// EncoderConfig controls derivative renditions produced after an upload is stored
type EncoderConfig struct {
	Thumbnails  bool `mapstructure:"thumbnails" json:"thumbnails"`
	ThumbWidth  int  `mapstructure:"thumb_width" json:"thumb_width" validate:"gt=0"`
	ThumbHeight int  `mapstructure:"thumb_height" json:"thumb_height" validate:"gt=0"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error dpanic panic fatal"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		WebRTC: WebRTCConfig{
			ICEServers: []webrtc.ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
			BufferedAmountLowThreshold: 512 * 1024,  // 512 KB
			MaxBufferedAmount:          1024 * 1024, // 1 MB
			ReadyTimeout:               30 * time.Second,
		},
		Transfer: TransferConfig{
			ChunkSize:       256 * 1024, // 256 KB
			AckTimeout:      0,
			DisableOnReject: true,
		},
		Store: StoreConfig{
			Root:          "./media",
			MaxUploadSize: 2 << 30, // 2 GB
		},
		Encoder: EncoderConfig{
			Thumbnails:  true,
			ThumbWidth:  300,
			ThumbHeight: 533,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.WebRTC.BufferedAmountLowThreshold >= c.WebRTC.MaxBufferedAmount {
		return ErrInvalidBufferConfig
	}
	if c.Transfer.ChunkSize <= 0 || uint64(c.Transfer.ChunkSize) > c.WebRTC.MaxBufferedAmount {
		return ErrInvalidChunkSize
	}
	if strings.TrimSpace(c.Store.Root) == "" {
		return ErrInvalidStoreRoot
	}
	return nil
}

// ValidateSignalling ensures the settings needed to establish a channel are present
func (c *Config) ValidateSignalling() error {
	if c.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseConfig
	}
	if c.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	return nil
}

// SetDefaults registers every key with v so environment variables and config
// files can override any of them
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("webrtc.ice_servers", d.WebRTC.ICEServers)
	v.SetDefault("webrtc.buffered_amount_low_threshold", d.WebRTC.BufferedAmountLowThreshold)
	v.SetDefault("webrtc.max_buffered_amount", d.WebRTC.MaxBufferedAmount)
	v.SetDefault("webrtc.ready_timeout", d.WebRTC.ReadyTimeout)

	v.SetDefault("firebase.project_id", d.Firebase.ProjectID)
	v.SetDefault("firebase.database_url", d.Firebase.DatabaseURL)
	v.SetDefault("firebase.credentials_path", d.Firebase.CredentialsPath)

	v.SetDefault("transfer.chunk_size", d.Transfer.ChunkSize)
	v.SetDefault("transfer.ack_timeout", d.Transfer.AckTimeout)
	v.SetDefault("transfer.disable_on_reject", d.Transfer.DisableOnReject)

	v.SetDefault("store.root", d.Store.Root)
	v.SetDefault("store.max_upload_size", d.Store.MaxUploadSize)

	v.SetDefault("encoder.thumbnails", d.Encoder.Thumbnails)
	v.SetDefault("encoder.thumb_width", d.Encoder.ThumbWidth)
	v.SetDefault("encoder.thumb_height", d.Encoder.ThumbHeight)

	v.SetDefault("log.level", d.Log.Level)
}

// Load builds a validated Config from v, starting from the defaults
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
