package webhdfs

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	envPrefix = "WEBHDFS"

	keyHost    = "host"
	keyPort    = "port"
	keyUser    = "user"
	keyTimeout = "timeout"
	keyScheme  = "scheme"
)

// NewFromEnv builds a Client from WEBHDFS_HOST, WEBHDFS_PORT, WEBHDFS_USER,
// WEBHDFS_TIMEOUT and WEBHDFS_SCHEME. Host and user are required; opts are
// applied after the environment-derived settings.
func NewFromEnv(opts ...Option) (*Client, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault(keyPort, DefaultPort)
	v.SetDefault(keyTimeout, DefaultTimeout.String())
	v.SetDefault(keyScheme, "http")

	host := strings.TrimSpace(v.GetString(keyHost))
	if host == "" {
		return nil, errors.Errorf("webhdfs: %s_HOST is required", envPrefix)
	}
	user := strings.TrimSpace(v.GetString(keyUser))
	if user == "" {
		return nil, errors.Errorf("webhdfs: %s_USER is required", envPrefix)
	}
	port := v.GetInt(keyPort)
	if port <= 0 {
		return nil, errors.Errorf("webhdfs: invalid %s_PORT %q", envPrefix, v.GetString(keyPort))
	}
	rawTimeout := strings.TrimSpace(v.GetString(keyTimeout))
	timeout, err := time.ParseDuration(rawTimeout)
	if err != nil || timeout <= 0 {
		return nil, errors.Errorf("webhdfs: invalid %s_TIMEOUT %q", envPrefix, rawTimeout)
	}

	envOpts := []Option{
		WithTimeout(timeout),
		WithScheme(v.GetString(keyScheme)),
	}
	client, err := New(host, port, user, append(envOpts, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "webhdfs: init client from environment")
	}
	return client, nil
}
