package config

import (
	"flag"
	"os"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string         gRPC bind address (e.g., ":50051")
//	-d string         PostgreSQL DSN
//	-s string         token HMAC secret key
//	-t int            session token validity, minutes
//	-cache string     cache directory
//	-etc string       configuration directory (previewers.json)
//	-trust-proxy      trust X-Forwarded-For / X-Real-IP (use -trust-proxy=true)
//	-redis string     redis address for consumed TOTP challenges
//	-log-level string debug, info, warn or error
//	-log-file string  rotating log file; empty logs to stdout
//
// Arguments are first filtered with flagx.FilterArgs so flags meant for other
// loaders (-c, -env) do not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-t", "-cache", "-etc", "-trust-proxy", "-redis", "-log-level", "-log-file",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	sessionTokenValidity := fs.Int("t", int(config.SessionTokenValidityDuration.Minutes()), "session token validity (in minutes)")
	fs.StringVar(&config.CacheDir, "cache", config.CacheDir, "cache directory")
	fs.StringVar(&config.ConfigDir, "etc", config.ConfigDir, "configuration directory")
	fs.BoolVar(&config.TrustProxy, "trust-proxy", config.TrustProxy, "trust forwarded address headers")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.StringVar(&config.LogFile, "log-file", config.LogFile, "log file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTokenValidityDuration = time.Duration(*sessionTokenValidity) * time.Minute
}
