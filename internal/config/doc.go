// Package config handles configuration loading, parsing, and validation
// from environment variables (PAYGATE_ prefix) and an optional YAML file.
// It provides typed settings for the payment gate, sessions, the task and
// sync queues, and the platform clients.
package config
