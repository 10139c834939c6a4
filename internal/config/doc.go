// Package config handles configuration loading for clinic-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CLINIC_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/clinic/gateway.yaml
//  3. ~/.config/clinic/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	assistant:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  driver: "sqlite"            # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "~/.local/share/clinic/gateway.db"
//
//	auth:
//	  jwt_secret: "${CLINIC_JWT_SECRET}"   # protects /api when set
//
//	assistant:
//	  api_key: "${OPENAI_API_KEY}"
//	  assistant_id: "asst_..."
//	  request_timeout: "30s"
//	  max_retries: 2
//
//	orchestrator:
//	  poll_interval: "1s"
//	  max_attempts: 30
//
//	registry:
//	  backend: "sqlite"           # sqlite, memory, redis
//	  redis_addr: "localhost:6379"
//	  ttl: ""                     # empty keeps conversations forever
//
//	clinic:
//	  timezone: "Africa/Cairo"
//	  opens_at: "09:00"
//	  last_start: "16:30"
//	  closes_at: "17:00"
//	  closed_days: ["Sunday"]
//
//	whatsapp:
//	  enabled: true
//	  verify_token: "${WHATSAPP_VERIFY_TOKEN}"
//	  app_secret: "${WHATSAPP_APP_SECRET}"
//	  access_token: "${WHATSAPP_ACCESS_TOKEN}"
//	  phone_number_id: "1234567890"
//	  send_rate: 20
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax. Clinic clock values accept
// "15:04" or "3:04 PM".
package config
