package config

// Config is the top-level YAML structure. Every field can be overridden by
// the EVENTSYNTH_* environment variable named in its env tag.
type Config struct {
	Server  ServerConf  `yaml:"server"`
	Capture CaptureConf `yaml:"capture"`
	Browser BrowserConf `yaml:"browser"`
	Replay  ReplayConf  `yaml:"replay"`
	Jobs    JobsConf    `yaml:"jobs"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr              string `yaml:"addr" env:"EVENTSYNTH_SERVER_ADDR"`
	ReadTimeoutMs     int    `yaml:"read_timeout_ms" env:"EVENTSYNTH_SERVER_READ_TIMEOUT_MS"`
	WriteTimeoutMs    int    `yaml:"write_timeout_ms" env:"EVENTSYNTH_SERVER_WRITE_TIMEOUT_MS"` // 0 = no limit
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms" env:"EVENTSYNTH_SERVER_SHUTDOWN_TIMEOUT_MS"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes" env:"EVENTSYNTH_SERVER_MAX_BODY_BYTES"`
}

// CaptureConf selects vendor traffic and where templates are kept.
type CaptureConf struct {
	Match        string `yaml:"match" env:"EVENTSYNTH_CAPTURE_MATCH"`
	PayloadParam string `yaml:"payload_param" env:"EVENTSYNTH_CAPTURE_PAYLOAD_PARAM"`
	TemplateDir  string `yaml:"template_dir" env:"EVENTSYNTH_CAPTURE_TEMPLATE_DIR"`
}

// BrowserConf configures the Chrome instance and recording pace.
type BrowserConf struct {
	ControlURL        string `yaml:"control_url" env:"EVENTSYNTH_BROWSER_CONTROL_URL"`
	Bin               string `yaml:"bin" env:"EVENTSYNTH_BROWSER_BIN"`
	ShowWindow        bool   `yaml:"show_window" env:"EVENTSYNTH_BROWSER_SHOW_WINDOW"`
	NoSandbox         bool   `yaml:"no_sandbox" env:"EVENTSYNTH_BROWSER_NO_SANDBOX"`
	DelayDivisor      int    `yaml:"delay_divisor" env:"EVENTSYNTH_BROWSER_DELAY_DIVISOR"`
	NavigateTimeoutMs int    `yaml:"navigate_timeout_ms" env:"EVENTSYNTH_BROWSER_NAVIGATE_TIMEOUT_MS"`
	SelectorTimeoutMs int    `yaml:"selector_timeout_ms" env:"EVENTSYNTH_BROWSER_SELECTOR_TIMEOUT_MS"`
	FinalSettleMs     int    `yaml:"final_settle_ms" env:"EVENTSYNTH_BROWSER_FINAL_SETTLE_MS"`
}

// ReplayConf tunes outbound replay.
type ReplayConf struct {
	BatchSize            int     `yaml:"batch_size" env:"EVENTSYNTH_REPLAY_BATCH_SIZE"`
	DaysBack             int     `yaml:"days_back" env:"EVENTSYNTH_REPLAY_DAYS_BACK"`
	BatchPauseMs         int     `yaml:"batch_pause_ms" env:"EVENTSYNTH_REPLAY_BATCH_PAUSE_MS"`
	RequestPacingMs      int     `yaml:"request_pacing_ms" env:"EVENTSYNTH_REPLAY_REQUEST_PACING_MS"`
	FallbackDelayMinMs   int     `yaml:"fallback_delay_min_ms" env:"EVENTSYNTH_REPLAY_FALLBACK_DELAY_MIN_MS"`
	FallbackDelayMaxMs   int     `yaml:"fallback_delay_max_ms" env:"EVENTSYNTH_REPLAY_FALLBACK_DELAY_MAX_MS"`
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" env:"EVENTSYNTH_REPLAY_MAX_RPS"`
	AccountID            string  `yaml:"account_id" env:"EVENTSYNTH_REPLAY_ACCOUNT_ID"`
	TimestampParam       string  `yaml:"timestamp_param" env:"EVENTSYNTH_REPLAY_TIMESTAMP_PARAM"`
	HTTPTimeoutMs        int     `yaml:"http_timeout_ms" env:"EVENTSYNTH_REPLAY_HTTP_TIMEOUT_MS"`
	MaxConnsPerHost      int     `yaml:"max_conns_per_host" env:"EVENTSYNTH_REPLAY_MAX_CONNS_PER_HOST"`
	InsecureSkipVerify   bool    `yaml:"insecure_skip_verify" env:"EVENTSYNTH_REPLAY_INSECURE_SKIP_VERIFY"`
}

// JobsConf sizes the asynchronous execution pool.
type JobsConf struct {
	Workers            int `yaml:"workers" env:"EVENTSYNTH_JOBS_WORKERS"`
	QueueDepth         int `yaml:"queue_depth" env:"EVENTSYNTH_JOBS_QUEUE_DEPTH"`
	Retain             int `yaml:"retain" env:"EVENTSYNTH_JOBS_RETAIN"` // finished jobs kept for lookup
	ExecutionTimeoutMs int `yaml:"execution_timeout_ms" env:"EVENTSYNTH_JOBS_EXECUTION_TIMEOUT_MS"`
}
