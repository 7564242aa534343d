// Package config provides centralized configuration management for the
// BidToEarn agent runtime. Behaviour is driven by a JSON configuration file
// plus a small set of environment variables that select the deployment
// profile (development or production) and carry credentials. Missing
// required environment variables are reported all at once at startup.
package config
