package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			Env:      "dev",
		},
		Bot: BotConfig{
			GivenName: "contact",
		},
		Daemon: DaemonConfig{
			Executable:            "./signal-cli",
			DataDir:               "~/.contactbot/data",
			GraceSeconds:          10,
			ProfileTimeoutSeconds: 60,
		},
		Teli: TeliConfig{
			SMSURL: "https://api.teleapi.net",
			APIURL: "https://apiv1.teleapi.net",
		},
		Wallet: WalletConfig{
			URL:         "http://localhost:9090/wallet",
			PollSeconds: 10,
		},
		Price: PriceConfig{
			USD:          15,
			FallbackRate: 14,
			PollAttempts: 360,
			PollSeconds:  10,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			DBPath:           "~/.contactbot/contactbot.db",
			IntentTTLMinutes: 15,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Shutdown: ShutdownConfig{
			TimeoutSeconds: 60,
		},
	}
}
