package config

const (
	defaultDataDir          = "~/.local/share/llmbridge"
	defaultLogDir           = "~/.local/share/llmbridge/logs"
	defaultIPCHost          = "127.0.0.1"
	defaultOllamaHost       = "localhost"
	defaultOllamaPort       = 11434
	defaultCloudBaseURL     = "https://relay.llmbridge.dev"
	defaultRequestTimeout   = 30
	defaultProbeInterval    = 10
	defaultErrorBackoff     = 5
	defaultSubmitTimeout    = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
	defaultNtfyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		IPC: IPC{
			Host: defaultIPCHost,
			Port: 0,
		},
		Ollama: Ollama{
			Host:    defaultOllamaHost,
			Port:    defaultOllamaPort,
			Timeout: defaultRequestTimeout,
		},
		Cloud: Cloud{
			BaseURL: defaultCloudBaseURL,
			Timeout: defaultRequestTimeout,
		},
		Monitor: Monitor{
			ProbeInterval: defaultProbeInterval,
			ErrorBackoff:  defaultErrorBackoff,
			SubmitTimeout: defaultSubmitTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			NtfyTimeout: defaultNtfyTimeout,
		},
	}
}
