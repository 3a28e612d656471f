// Package policy wraps the environment-variable switches the proxy reads
// into a small, explicitly-passed struct captured once per merge call,
// rather than letting deep call sites reach into process state — the
// "global environment reads" re-architecture note from the original
// design. Snapshotting with spf13/viper keeps property tests hermetic:
// callers pass a *Policy down instead of observing ambient env changes
// mid-call.
package policy

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultIdleTTLSeconds     = 300
	defaultRequestTimeoutSecs = 30
)

// Policy is an immutable snapshot of the process environment relevant to
// one load_servers_merged / proxy startup call.
type Policy struct {
	ICAHome           string
	PreferHome        bool
	StrictTrust       bool
	AllowProjectStdio bool
	AllowHTTPLoopback bool

	PoolStdio      bool
	DisablePooling bool
	IdleTTL        time.Duration
	RequestTimeout time.Duration

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// Snapshot captures the current environment into a Policy. It is cheap
// and side-effect-free; callers take a fresh snapshot per operation
// instead of holding one across the process lifetime, so a running trust
// or merge operation never observes a mid-flight env change.
func Snapshot() *Policy {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ICA_MCP_PROXY_POOL_STDIO", "1")
	v.SetDefault("ICA_MCP_PROXY_UPSTREAM_IDLE_TTL_S", defaultIdleTTLSeconds)
	v.SetDefault("ICA_MCP_PROXY_UPSTREAM_REQUEST_TIMEOUT_S", defaultRequestTimeoutSecs)
	v.SetDefault("ICA_MCP_LOG_LEVEL", "info")
	v.SetDefault("ICA_MCP_LOG_FORMAT", "text")

	return &Policy{
		ICAHome:           v.GetString("ICA_HOME"),
		PreferHome:        truthy(v.GetString("ICA_MCP_CONFIG_PREFER_HOME")),
		StrictTrust:       truthy(v.GetString("ICA_MCP_STRICT_TRUST")),
		AllowProjectStdio: truthy(v.GetString("ICA_MCP_ALLOW_PROJECT_STDIO")),
		AllowHTTPLoopback: truthy(v.GetString("ICA_MCP_ALLOW_HTTP_LOOPBACK")),

		PoolStdio:      truthy(v.GetString("ICA_MCP_PROXY_POOL_STDIO")),
		DisablePooling: truthy(v.GetString("ICA_MCP_PROXY_DISABLE_POOLING")),
		IdleTTL:        time.Duration(v.GetFloat64("ICA_MCP_PROXY_UPSTREAM_IDLE_TTL_S") * float64(time.Second)),
		RequestTimeout: time.Duration(v.GetFloat64("ICA_MCP_PROXY_UPSTREAM_REQUEST_TIMEOUT_S") * float64(time.Second)),

		MetricsAddr: v.GetString("ICA_MCP_PROXY_METRICS_ADDR"),
		LogLevel:    v.GetString("ICA_MCP_LOG_LEVEL"),
		LogFormat:   v.GetString("ICA_MCP_LOG_FORMAT"),
	}
}

// truthy implements the spec's boolean convention: "1", "true", "yes"
// case-insensitively are true; unset, empty, or anything else is false.
func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
