package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Assistant: AssistantConfig{
			Name:               "CLUMOSS AI Assistant",
			ThinkingDelayMs:    1000,
			SessionIdleMinutes: 30,
		},
		Voice: VoiceConfig{
			Input: VoiceInputConfig{
				Provider: "none",
				APIBase:  "https://api.openai.com/v1",
				Model:    "whisper-1",
				Language: "en",
			},
			Output: VoiceOutputConfig{
				Enabled:       true,
				Provider:      "none",
				APIBase:       "https://api.openai.com/v1",
				Model:         "tts-1",
				Voice:         "alloy",
				PreferredLang: "en-US",
				PreferredName: "Google Female",
				Rate:          1,
				Pitch:         1,
				Volume:        0.8,
			},
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Color: true,
			},
			Web: WebConfig{
				Enabled:           true,
				Host:              "127.0.0.1",
				Port:              8080,
				Path:              "/ws",
				MessagesPerMinute: 30,
				Burst:             5,
			},
			Telegram: TelegramConfig{
				Enabled:           false,
				MessagesPerMinute: 20,
				Burst:             3,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
