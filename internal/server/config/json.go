package config

import (
	"encoding/json"
	"os"

	"github.com/BlakeRain/parcel-sub000/internal/flagx"
	"github.com/BlakeRain/parcel-sub000/internal/timex"
)

// JsonConfig is the DTO read from the JSON configuration file. Interval
// fields use timex.Duration so both "10m" and integer nanoseconds parse.
// Absent fields leave the current value untouched.
type JsonConfig struct {
	EndpointAddrGRPC               string          `json:"endpoint_addr_grpc"`
	DatabaseDSN                    string          `json:"database_dsn"`
	SecretKey                      string          `json:"secret_key"`
	SessionTokenValidityDuration   *timex.Duration `json:"session_token_validity_duration"`
	ChallengeTokenValidityDuration *timex.Duration `json:"challenge_token_validity_duration"`
	ConfigDir                      string          `json:"config_dir"`
	CacheDir                       string          `json:"cache_dir"`
	PreviewGenerationInterval      *timex.Duration `json:"preview_generation_interval"`
	MaxPreviewSize                 *int64          `json:"max_preview_size"`
	PreviewCommandTimeout          *timex.Duration `json:"preview_command_timeout"`
	TrustProxy                     *bool           `json:"trust_proxy"`
	LockoutThreshold               *int            `json:"lockout_threshold"`
	LockoutWindow                  *timex.Duration `json:"lockout_window"`
	RedisAddr                      string          `json:"redis_addr"`
	RedisPassword                  string          `json:"redis_password"`
	RedisDB                        *int            `json:"redis_db"`
	LogLevel                       string          `json:"log_level"`
	LogFile                        string          `json:"log_file"`
	LogMaxSizeMB                   *int            `json:"log_max_size_mb"`
	LogMaxBackups                  *int            `json:"log_max_backups"`
	LogMaxAgeDays                  *int            `json:"log_max_age_days"`
	LogCompress                    *bool           `json:"log_compress"`
}

// parseJson loads the file named by -c / -config, if any, and overlays it
// onto config. Unreadable or invalid files panic.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.ConfigDir, c.ConfigDir)
	setString(&config.CacheDir, c.CacheDir)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFile, c.LogFile)

	if c.SessionTokenValidityDuration != nil {
		config.SessionTokenValidityDuration = c.SessionTokenValidityDuration.Duration
	}
	if c.ChallengeTokenValidityDuration != nil {
		config.ChallengeTokenValidityDuration = c.ChallengeTokenValidityDuration.Duration
	}
	if c.PreviewGenerationInterval != nil {
		config.PreviewGenerationInterval = c.PreviewGenerationInterval.Duration
	}
	if c.PreviewCommandTimeout != nil {
		config.PreviewCommandTimeout = c.PreviewCommandTimeout.Duration
	}
	if c.LockoutWindow != nil {
		config.LockoutWindow = c.LockoutWindow.Duration
	}

	setValue(&config.MaxPreviewSize, c.MaxPreviewSize)
	setValue(&config.TrustProxy, c.TrustProxy)
	setValue(&config.LockoutThreshold, c.LockoutThreshold)
	setValue(&config.RedisDB, c.RedisDB)
	setValue(&config.LogMaxSizeMB, c.LogMaxSizeMB)
	setValue(&config.LogMaxBackups, c.LogMaxBackups)
	setValue(&config.LogMaxAgeDays, c.LogMaxAgeDays)
	setValue(&config.LogCompress, c.LogCompress)
}
