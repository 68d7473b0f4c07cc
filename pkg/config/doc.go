// Package config loads and validates groupsync configuration from
// environment variables. All required values are read once at process
// start; the process refuses to start if any is missing.
package config
