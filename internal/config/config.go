package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// WarehouseConfig holds the destination connection settings. Driver is
// "snowflake" in production; "postgres" is accepted for local development.
type WarehouseConfig struct {
	Driver    string `mapstructure:"driver"`
	Account   string `mapstructure:"account"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Warehouse string `mapstructure:"warehouse"`
	Database  string `mapstructure:"database"`
	Schema    string `mapstructure:"schema"`
	// Host/Port are only used by the postgres driver.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Configured reports whether enough credentials are present to open a
// destination connection. The pipeline still runs without them; validation
// falls back to log-derived reconciliation.
func (w WarehouseConfig) Configured() bool {
	switch w.Driver {
	case "postgres":
		return w.Host != "" && w.User != "" && w.Database != ""
	default:
		return w.Account != "" && w.User != "" && w.Password != "" && w.Database != "" && w.Schema != ""
	}
}

type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	// Endpoint overrides the S3 endpoint (MinIO and friends). Optional.
	Endpoint string `mapstructure:"endpoint"`
}

type LLMConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Token budgets for code generation. The enhanced budget applies when
	// profiling data is available to enrich the prompt.
	MaxTokens         int `mapstructure:"max_tokens"`
	EnhancedMaxTokens int `mapstructure:"enhanced_max_tokens"`
}

type WorkflowConfig struct {
	ScriptsDir       string        `mapstructure:"scripts_dir"`
	Interpreter      string        `mapstructure:"interpreter"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	// Reconciliation variance thresholds, as fractions of the source count.
	VarianceAccept float64 `mapstructure:"variance_accept"`
	VarianceWarn   float64 `mapstructure:"variance_warn"`
	// CatalogWindow bounds the "recently created tables" catalog query.
	CatalogWindow time.Duration `mapstructure:"catalog_window"`
	// MaxSampleBytes caps how much of a source file the profiler reads.
	MaxSampleBytes int `mapstructure:"max_sample_bytes"`
}

type UploadConfig struct {
	MaxFileSizeMB     int      `mapstructure:"max_file_size_mb"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	Warehouse   WarehouseConfig `mapstructure:"warehouse"`
	Storage     StorageConfig   `mapstructure:"storage"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Workflow    WorkflowConfig  `mapstructure:"workflow"`
	Upload      UploadConfig    `mapstructure:"upload"`
}

// Load reads .env (if present), then the YAML config file, and resolves
// credential fields from the environment. The result is built once at
// process start and passed into every component constructor.
func Load() *Config {
	// Credentials live in the environment; .env is a development convenience.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("Error reading config file: %v", err)
		}
		// No config file is fine; everything can come from the environment.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.Workflow.ScriptsDir == "" {
		config.Workflow.ScriptsDir = "generated_scripts"
	}
	if config.Workflow.Interpreter == "" {
		config.Workflow.Interpreter = "python3"
	}
	if config.Workflow.ExecutionTimeout == 0 {
		config.Workflow.ExecutionTimeout = 5 * time.Minute
	}
	if config.Workflow.VarianceAccept == 0 {
		config.Workflow.VarianceAccept = 0.05
	}
	if config.Workflow.VarianceWarn == 0 {
		config.Workflow.VarianceWarn = 0.15
	}
	if config.Workflow.CatalogWindow == 0 {
		config.Workflow.CatalogWindow = 10 * time.Minute
	}
	if config.Workflow.MaxSampleBytes == 0 {
		config.Workflow.MaxSampleBytes = 10 << 20
	}
	if config.LLM.RequestTimeout == 0 {
		config.LLM.RequestTimeout = 60 * time.Second
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 3000
	}
	if config.LLM.EnhancedMaxTokens == 0 {
		config.LLM.EnhancedMaxTokens = 4000
	}
	if config.Upload.MaxFileSizeMB == 0 {
		config.Upload.MaxFileSizeMB = 100
	}
	if len(config.Upload.AllowedExtensions) == 0 {
		config.Upload.AllowedExtensions = []string{".csv", ".json", ".xlsx", ".xls", ".txt", ".parquet"}
	}

	applyEnvOverrides(&config)

	return &config
}

// applyEnvOverrides lets environment credentials win over config file values,
// using the same variable names that get injected into generated scripts.
func applyEnvOverrides(c *Config) {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Warehouse.Account, "SNOWFLAKE_ACCOUNT")
	override(&c.Warehouse.User, "SNOWFLAKE_USER")
	override(&c.Warehouse.Password, "SNOWFLAKE_PASSWORD")
	override(&c.Warehouse.Warehouse, "SNOWFLAKE_WAREHOUSE")
	override(&c.Warehouse.Database, "SNOWFLAKE_DATABASE")
	override(&c.Warehouse.Schema, "SNOWFLAKE_SCHEMA")
	override(&c.Storage.AccessKey, "AWS_ACCESS_KEY_ID")
	override(&c.Storage.SecretKey, "AWS_SECRET_ACCESS_KEY")
	override(&c.Storage.Region, "AWS_REGION")
	override(&c.Storage.Bucket, "S3_BUCKET_NAME")
	override(&c.LLM.Endpoint, "LLM_ENDPOINT")
}

// ScriptEnv returns the credential environment injected into generated
// scripts at execution time. AWS_DEFAULT_REGION mirrors AWS_REGION for
// the benefit of boto3.
func (c *Config) ScriptEnv() map[string]string {
	return map[string]string{
		"AWS_ACCESS_KEY_ID":     c.Storage.AccessKey,
		"AWS_SECRET_ACCESS_KEY": c.Storage.SecretKey,
		"AWS_REGION":            c.Storage.Region,
		"AWS_DEFAULT_REGION":    c.Storage.Region,
		"SNOWFLAKE_ACCOUNT":     c.Warehouse.Account,
		"SNOWFLAKE_USER":        c.Warehouse.User,
		"SNOWFLAKE_PASSWORD":    c.Warehouse.Password,
		"SNOWFLAKE_WAREHOUSE":   c.Warehouse.Warehouse,
		"SNOWFLAKE_DATABASE":    c.Warehouse.Database,
		"SNOWFLAKE_SCHEMA":      c.Warehouse.Schema,
	}
}
