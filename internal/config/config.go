package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（进度事件发布）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey              string `mapstructure:"api_key"`
	BaseURL             string `mapstructure:"base_url"`
	OrgID               string `mapstructure:"org_id"`
	ChatModel           string `mapstructure:"chat_model"`           // 默认 gpt-4.1-mini
	EmbeddingModel      string `mapstructure:"embedding_model"`      // 默认 text-embedding-3-small
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions"` // 默认 1536
}

// QdrantConfig Qdrant 外部向量数据库配置
type QdrantConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Distance       string `mapstructure:"distance"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// IngestConfig 字幕摄取配置
type IngestConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`    // 分块大小（字符），默认 400
	ChunkOverlap int `mapstructure:"chunk_overlap"` // 相邻分块重叠（字符），默认 50
}

// ChatConfig 课程问答配置
type ChatConfig struct {
	TopK            int     `mapstructure:"top_k"`             // 检索返回块数，默认 4
	MaxContextChars int     `mapstructure:"max_context_chars"` // 上下文字符预算，默认 3000
	Temperature     float64 `mapstructure:"temperature"`       // 默认 0.2
	MaxTokens       int     `mapstructure:"max_tokens"`        // 默认 500
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_OPENAI_API_KEY

	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults 设置默认值，与摄取/问答管线的既定参数保持一致
func setDefaults(v *viper.Viper) {
	v.SetDefault("qdrant.endpoint", "http://localhost:6333")
	v.SetDefault("qdrant.distance", "Cosine")
	v.SetDefault("qdrant.timeout_seconds", 30)

	v.SetDefault("openai.chat_model", "gpt-4.1-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.embedding_dimensions", 1536)

	v.SetDefault("ingest.chunk_size", 400)
	v.SetDefault("ingest.chunk_overlap", 50)

	v.SetDefault("chat.top_k", 4)
	v.SetDefault("chat.max_context_chars", 3000)
	v.SetDefault("chat.temperature", 0.2)
	v.SetDefault("chat.max_tokens", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
