package config

// Config is the main configuration carrier for ftbridge.
type Config struct {
	App     AppConfig     `toml:"app"`
	Broker  BrokerConfig  `toml:"broker"`
	Gate    GateConfig    `toml:"gate"`
	Polling PollingConfig `toml:"polling"`
	Cache   CacheConfig   `toml:"cache"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BrokerConfig describes access to the upstream brokerage REST API.
type BrokerConfig struct {
	APIURL             string `toml:"api_url"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	AppID              string `toml:"app_id"`
	AppVersion         string `toml:"app_version"`
	ClientID           string `toml:"client_id"`
	ClientSecret       string `toml:"client_secret"`
	DeviceID           string `toml:"device_id"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// GateConfig tunes the request gate throttle and penalty handling.
type GateConfig struct {
	MinIntervalMS    int `toml:"min_interval_ms"`
	MaxAttempts      int `toml:"max_attempts"`
	BackoffBaseMS    int `toml:"backoff_base_ms"`
	CaptchaPenaltyMS int `toml:"captcha_penalty_ms"`
	HealthyQueueMax  int `toml:"healthy_queue_max"`
}

// ModeIntervals holds per-data-kind refresh intervals for one polling mode.
type ModeIntervals struct {
	BalanceMS   int `toml:"balance_ms"`
	PositionsMS int `toml:"positions_ms"`
	OrdersMS    int `toml:"orders_ms"`
}

// PollingConfig tunes the adaptive polling supervisor. The critical
// thresholds are exclusive: more than CriticalPositions open positions
// (or more than CriticalOrders working orders) escalates to CRITICAL.
type PollingConfig struct {
	Idle               ModeIntervals `toml:"idle"`
	Active             ModeIntervals `toml:"active"`
	Critical           ModeIntervals `toml:"critical"`
	CriticalPositions  int           `toml:"critical_positions"`
	CriticalOrders     int           `toml:"critical_orders"`
	OverrideDurationMS int           `toml:"override_duration_ms"`
}

type CacheConfig struct {
	DBPath       string `toml:"db_path"`
	StaleAfterMS int    `toml:"stale_after_ms"`
}
