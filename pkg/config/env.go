package config

import (
	"fmt"
	"strconv"
	"time"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg with M365_* variables. Unparseable values are an
// error rather than silently ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setString("M365_GRAPH_BASE_URL", &cfg.Graph.BaseURL)
	e.setString("M365_GRAPH_BATCH_URL", &cfg.Graph.BatchURL)
	e.setString("M365_SHAREPOINT_SITE_URL", &cfg.SharePoint.SiteURL)

	e.setString("M365_TENANT_ID", &cfg.Auth.TenantID)
	e.setString("M365_CLIENT_ID", &cfg.Auth.ClientID)
	e.setString("M365_CLIENT_SECRET", &cfg.Auth.ClientSecret)
	e.setString("M365_AUTHORITY", &cfg.Auth.Authority)
	e.setString("M365_RESOURCE", &cfg.Auth.Resource)

	e.setDuration("M365_BATCH_WAIT_TIME", &cfg.Batch.WaitTime)
	e.setInt("M365_BATCH_SPLIT_THRESHOLD", &cfg.Batch.SplitThreshold)
	e.setInt("M365_BATCH_MAX_RETRIES", &cfg.Batch.MaxRetries)
	e.setDuration("M365_BATCH_RETRY_DELAY", &cfg.Batch.RetryDelay)

	e.setString("M365_CACHE_BACKEND", &cfg.Cache.Backend)
	e.setString("M365_REDIS_ADDR", &cfg.Cache.RedisAddr)
	e.setString("M365_SQLITE_PATH", &cfg.Cache.SQLitePath)
	e.setDuration("M365_CACHE_TTL", &cfg.Cache.TTL)

	e.setDuration("M365_HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	e.setInt("M365_HTTP_MAX_RETRIES", &cfg.HTTP.MaxRetries)
	e.setString("M365_USER_AGENT", &cfg.HTTP.UserAgent)
	e.setFloat("M365_HTTP_RATE", &cfg.HTTP.RequestsPerSecond)
	e.setInt("M365_HTTP_BURST", &cfg.HTTP.Burst)

	e.setString("M365_LOG_LEVEL", &cfg.Logging.Level)
	e.setBool("M365_LOG_PRETTY", &cfg.Logging.Pretty)

	e.setString("M365_LISTEN_ADDR", &cfg.Server.ListenAddr)
	e.setDuration("M365_SEARCH_DEBOUNCE", &cfg.Server.SearchDebounce)

	return e.err
}

// envReader keeps the first parse error.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.err = fmt.Errorf("env %s=%q: %w", key, v, err)
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = i
}

func (e *envReader) setFloat(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}
