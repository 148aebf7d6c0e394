// Package config handles configuration loading for coordd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COORD_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	locks:
//	  ttl: "10m"
//
//	presence:
//	  offline_threshold: "5m"
//	  active_threshold: "30m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Shared state backend:
//
//	store:
//	  backend: "sqlite"            # memory, sqlite, redis
//	  path: "/var/lib/coordd/coord.db"
//	  redis_addr: "localhost:6379"
//	  redis_password: "${COORD_REDIS_PASSWORD}"
//	  redis_db: 0
//	  namespace: "coord"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${COORD_JWT_SECRET}"
//
// Announcement feed:
//
//	announce:
//	  retain: 200
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/coordd/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
