package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"quest-pipeline"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (canonical store)
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"quest"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Graph Database (Memgraph)
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Redis (run locks)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka Consumer (streaming intake)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaIntakeTopic     string   `env:"KAFKA_INTAKE_TOPIC" env-default:"scraped-records"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"quest-pipeline"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer (lifecycle events)
	KafkaEventsTopic  string `env:"KAFKA_EVENTS_TOPIC" env-default:"pipeline-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`
	KafkaEnabled      bool   `env:"KAFKA_ENABLED" env-default:"true"`

	// Gemini classification
	GeminiAPIKey            string        `env:"GEMINI_API_KEY" env-default:""`
	ClassifyModels          []string      `env:"CLASSIFY_MODELS" env-default:"gemini-2.5-flash,gemini-2.5-flash-lite"`
	ClassifyCallTimeout     time.Duration `env:"CLASSIFY_CALL_TIMEOUT" env-default:"30s"`
	ClassifyAttemptsPerTier int           `env:"CLASSIFY_ATTEMPTS_PER_TIER" env-default:"2"`
	ClassifyBackoff         time.Duration `env:"CLASSIFY_BACKOFF" env-default:"500ms"`

	// Matching thresholds
	MatchProbableThreshold  float64 `env:"MATCH_PROBABLE_THRESHOLD" env-default:"0.93"`
	MatchAmbiguousThreshold float64 `env:"MATCH_AMBIGUOUS_THRESHOLD" env-default:"0.75"`
	MatchMaxCandidates      int     `env:"MATCH_MAX_CANDIDATES" env-default:"50"`

	// Review
	RejectionThreshold int `env:"REJECTION_THRESHOLD" env-default:"2"`

	// Pipeline runs
	RunWindow           time.Duration `env:"RUN_WINDOW" env-default:"1h"`
	RunLockTTL          time.Duration `env:"RUN_LOCK_TTL" env-default:"15m"`
	PipelineWorkerCount int           `env:"PIPELINE_WORKER_COUNT" env-default:"8"`
	ScrapeTimeout       time.Duration `env:"SCRAPE_TIMEOUT" env-default:"30s"`
	ProjectorBatchSize  int           `env:"PROJECTOR_BATCH_SIZE" env-default:"100"`

	// Scheduler settings
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"30s"`
	SchedulerEnabled      bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
}
