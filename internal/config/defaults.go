package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			TelegramRoute: "/t",
			WhatsAppRoute: "/w",
			MaxBodyBytes:  1 << 20,
		},
		WhatsApp: WhatsAppConfig{
			APIBase: "https://graph.facebook.com/v21.0",
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			Path:     "~/.tgwabridge/bridge.db",
			RedisKey: "tgwabridge:correlation",
		},
		Queue: QueueConfig{
			Mode:         "sync",
			Buffer:       100,
			StreamPrefix: "tgwabridge:queue",
			Group:        "tgwabridge",
		},
		Relay: RelayConfig{
			SignaturePlacement: "every",
			StoreFailurePolicy: "degrade",
			EmptyCaptionPolicy: "optional",
			MediaMaxBytes:      100 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// legacyEnv maps the environment variables older deployments were configured
// with onto config paths. They win over file values.
var legacyEnv = []struct {
	name string
	path string
}{
	{"TG_TOKEN", "telegram.token"},
	{"TG_CHAT_ID", "telegram.chatId"},
	{"TG_BOT_ID", "telegram.botId"},
	{"WA_TOKEN", "whatsapp.accessToken"},
	{"WA_PHONE_ID", "whatsapp.phoneNumberId"},
	{"VERIFY_TOKEN", "whatsapp.verifyToken"},
	{"WA_APP_SECRET", "whatsapp.appSecret"},
	{"DATABASE_URL", "store.dsn"},
	{"REDIS_URL", "queue.redisUrl"},
	{"PORT", "server.port"},
}

// LegacyEnvNames lists the recognised environment overrides.
func LegacyEnvNames() []string {
	names := make([]string, len(legacyEnv))
	for i, e := range legacyEnv {
		names[i] = e.name
	}
	return names
}
