package models

type Config struct {
	Debug bool `envconfig:"VARFISH_ENGINE_DEBUG"`
	Api   struct {
		Port              string `envconfig:"VARFISH_ENGINE_INTERNAL_PORT" default:"5000"`
		WorkerCount       int    `envconfig:"VARFISH_ENGINE_WORKER_COUNT" default:"4"`
		QueryTimeoutSecs  int    `envconfig:"VARFISH_ENGINE_QUERY_TIMEOUT_SECONDS" default:"600"`
		QueryBatchSize    int    `envconfig:"VARFISH_ENGINE_QUERY_BATCH_SIZE" default:"1000"`
		MaxPageSize       int    `envconfig:"VARFISH_ENGINE_MAX_PAGE_SIZE" default:"200"`
		PresetPath        string `envconfig:"VARFISH_ENGINE_PRESET_PATH" default:"./presets.yaml"`
		RepairCronTimeUtc string `envconfig:"VARFISH_ENGINE_REPAIR_CRON_TIME_UTC" default:"04:00:00"`
	}
	Elasticsearch struct {
		Url      string `envconfig:"VARFISH_ENGINE_ES_URL"`
		Username string `envconfig:"VARFISH_ENGINE_ES_USERNAME"`
		Password string `envconfig:"VARFISH_ENGINE_ES_PASSWORD"`
	}
	ResultStore struct {
		Path string `envconfig:"VARFISH_ENGINE_RESULT_DB_PATH" default:"./varfish-results.db"`
	}
}
