// Package config handles configuration loading for funnel-gateway.
//
// # Overview
//
// Configuration is loaded once at process start from a YAML file with
// environment variable expansion, then passed by reference into the gateway
// and its collaborators. Handler logic never reads the environment directly.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FUNNEL_JWT_SECRET}"
//
// # Configuration Sections
//
// Server and upstream endpoints:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	upstreams:
//	  user_url: "https://api.example.com/user"
//	  membership_url: "https://api.example.com/membership"
//	  gpt_url: "https://api.example.com/gpt"
//	  powerplay_url: "https://api.example.com/powerplay"
//	  timeout: "30s"
//
// Optional concerns:
//
//	auth:
//	  jwt_secret: ""        # empty disables bearer auth
//	database:
//	  path: ""              # empty disables the request audit log
//	metrics:
//	  enabled: false
//	rate_limit:
//	  enabled: false        # per-email generation rate limit
package config
