package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置源
//
// 表结构:
//
//	registry_config(config_key, config_value, is_active, updated_at)
//	rpc_nodes(name, url, priority, is_active)
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// Apply 用数据库中的配置覆盖config
func (dc *DatabaseConfig) Apply(config *Config) error {
	settings, err := dc.ListConfigs()
	if err != nil {
		return fmt.Errorf("加载注册表配置失败: %w", err)
	}
	for key, value := range settings {
		if err := applySetting(config, key, value); err != nil {
			dc.logger.Warnf("忽略无效配置项 %s: %v", key, err)
		}
	}

	nodes, err := dc.loadNodes()
	if err != nil {
		return fmt.Errorf("加载节点配置失败: %w", err)
	}
	if len(nodes) > 0 {
		config.Nodes = nodes
	}
	return nil
}

// applySetting 应用单个配置项
func applySetting(config *Config, key, value string) error {
	if config.Registry == nil {
		config.Registry = &RegistryConfig{}
	}

	switch key {
	case "chain_id":
		config.Chain.ChainID = value
	case "chain_name":
		config.Chain.ChainName = value
	case "rpc_urls":
		var urls []string
		if err := json.Unmarshal([]byte(value), &urls); err != nil {
			return err
		}
		config.Chain.RPCURLs = urls
	case "explorer_url":
		config.Chain.BlockExplorerURLs = []string{value}
	case "currency_symbol":
		config.Chain.NativeCurrency.Symbol = value
		config.Chain.NativeCurrency.Name = value
	case "contract":
		config.Registry.Contract = value
	case "tld":
		config.Registry.TLD = value
	case "refresh_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		config.Registry.RefreshDelay = d
	case "workers":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.Registry.Workers = v
	case "strict_names":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		config.Registry.StrictNames = v
	case "output_format":
		if config.Output == nil {
			config.Output = &OutputConfig{}
		}
		config.Output.Format = strings.ToLower(value)
	default:
		return fmt.Errorf("未知的配置项: %s", key)
	}
	return nil
}

// loadNodes 加载只读节点
func (dc *DatabaseConfig) loadNodes() ([]*NodeConfig, error) {
	query := `SELECT name, url, priority FROM rpc_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		if err := rows.Scan(&node.Name, &node.URL, &node.Priority); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(key, value string) error {
	if err := applySetting(GetDefaultConfig(), key, value); err != nil {
		return err
	}

	query := `
		INSERT INTO registry_config (config_key, config_value, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`
	_, err := dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(key string) (string, error) {
	query := `SELECT config_value FROM registry_config WHERE config_key = $1 AND is_active = true`
	var value string
	err := dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出所有配置
func (dc *DatabaseConfig) ListConfigs() (map[string]string, error) {
	query := `SELECT config_key, config_value FROM registry_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		configs[key] = value
	}
	return configs, rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
