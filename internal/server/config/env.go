package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/flagx"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// parseEnv loads a dotenv file into the process environment and overlays the
// PARCEL_* variables onto config. The file comes from -env and defaults to
// .env; a missing default file is ignored, a missing explicit one panics.
// Variables already set in the environment win over the file.
func parseEnv(config *Config) {
	path := flagx.EnvFileFlag()
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			panic(err)
		}
	}

	applyEnv(config, os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func applyEnv(config *Config, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				panic(err)
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				panic(err)
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				panic(err)
			}
			*dst = b
		}
	}

	str("PARCEL_GRPC_ADDR", &config.EndpointAddrGRPC)
	str("PARCEL_DATABASE_DSN", &config.DatabaseDSN)
	str("PARCEL_SECRET_KEY", &config.SecretKey)
	dur("PARCEL_SESSION_TTL", &config.SessionTokenValidityDuration)
	dur("PARCEL_CHALLENGE_TTL", &config.ChallengeTokenValidityDuration)
	str("PARCEL_CONFIG_DIR", &config.ConfigDir)
	str("PARCEL_CACHE_DIR", &config.CacheDir)
	dur("PARCEL_PREVIEW_INTERVAL", &config.PreviewGenerationInterval)
	dur("PARCEL_PREVIEW_TIMEOUT", &config.PreviewCommandTimeout)
	boolean("PARCEL_TRUST_PROXY", &config.TrustProxy)
	integer("PARCEL_LOCKOUT_THRESHOLD", &config.LockoutThreshold)
	dur("PARCEL_LOCKOUT_WINDOW", &config.LockoutWindow)
	str("PARCEL_REDIS_ADDR", &config.RedisAddr)
	str("PARCEL_REDIS_PASSWORD", &config.RedisPassword)
	integer("PARCEL_REDIS_DB", &config.RedisDB)
	str("PARCEL_LOG_LEVEL", &config.LogLevel)
	str("PARCEL_LOG_FILE", &config.LogFile)

	if v, ok := lookup("PARCEL_MAX_PREVIEW_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic(err)
		}
		config.MaxPreviewSize = n
	}
}
