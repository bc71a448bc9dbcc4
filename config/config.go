package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Data     DataConfig     `yaml:"data"`
	HITL     HITLConfig     `yaml:"hitl"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	APIURL    string `yaml:"api_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type DataConfig struct {
	Dir       string `yaml:"dir"`
	ReportDir string `yaml:"report_dir"` // 最终审计报告 Markdown 的落盘目录
}

// HITLConfig 人工审核等待配置
type HITLConfig struct {
	// Timeout 等待人工反馈的上限；超时后按"默认通过"恢复流水线
	Timeout time.Duration `yaml:"timeout"`
	// MaxWorkers 同时运行的审计任务数上限
	MaxWorkers int `yaml:"max_workers"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

func loadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Port: "8000",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/app.db",
		},
		LLM: LLMConfig{
			APIURL:    "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Data: DataConfig{
			Dir:       "./data",
			ReportDir: "./data/reports",
		},
		HITL: HITLConfig{
			Timeout:    30 * time.Minute,
			MaxWorkers: 4,
		},
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	// 环境变量优先级高于配置文件
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}

	// 数据库环境变量
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	// 数据目录环境变量
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		config.Data.Dir = dataDir
		config.Data.ReportDir = ""
	}
	if reportDir := os.Getenv("REPORT_DIR"); reportDir != "" {
		config.Data.ReportDir = reportDir
	}
	if config.Data.ReportDir == "" {
		config.Data.ReportDir = filepath.Join(config.Data.Dir, "reports")
	}

	// HITL 等待超时，如 "45m"、"2h"
	if timeout := os.Getenv("HITL_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			config.HITL.Timeout = d
		}
	}

	return config
}
