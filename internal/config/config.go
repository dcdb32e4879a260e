package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"w3up/internal/errors"
	"w3up/internal/logging"
	"w3up/internal/retry"
	"w3up/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "W3UP"

// Config 主配置
type Config struct {
	Chain    models.ChainInfo   `mapstructure:"chain"`
	Registry *RegistryConfig    `mapstructure:"registry"`
	Wallet   *WalletConfig      `mapstructure:"wallet"`
	Nodes    []*NodeConfig      `mapstructure:"nodes"`
	Journal  *JournalConfig     `mapstructure:"journal"`
	Output   *OutputConfig      `mapstructure:"output"`
	API      *APIConfig         `mapstructure:"api"`
	Retry    *retry.RetryConfig `mapstructure:"retry"`
	Logging  *logging.LogConfig `mapstructure:"logging"`
}

// RegistryConfig 注册表合约配置
type RegistryConfig struct {
	Contract            string        `mapstructure:"contract"`
	TLD                 string        `mapstructure:"tld"`
	RefreshDelay        time.Duration `mapstructure:"refresh_delay"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	Workers             int           `mapstructure:"workers"`
	StrictNames         bool          `mapstructure:"strict_names"` // 域名含非常规字符时拒绝而不是警告
}

// WalletConfig 钱包配置
// PrivateKey 非空时使用本地私钥签名，否则通过RPCURL连接外部钱包。
type WalletConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	PrivateKey    string        `mapstructure:"private_key"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// NodeConfig 只读节点配置
type NodeConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
}

// JournalConfig 交易日志配置
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 事件输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, json, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin模式: debug, release, test
}

// Addr 监听地址
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// envKeys 可由环境变量覆盖的配置项
var envKeys = []string{
	"chain.chain_id",
	"chain.chain_name",
	"registry.contract",
	"registry.tld",
	"registry.refresh_delay",
	"registry.strict_names",
	"wallet.rpc_url",
	"wallet.private_key",
	"journal.path",
	"output.format",
	"output.directory",
	"api.host",
	"api.port",
	"api.mode",
	"logging.level",
	"logging.format",
	"logging.output",
}

// LoadConfig 加载配置（自动检测配置源）
// 设置W3UP_DB_DSN时，数据库中的链和节点配置覆盖文件配置。
func LoadConfig(configPath string) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	dbDSN := os.Getenv(EnvPrefix + "_DB_DSN")
	if dbDSN == "" {
		return config, nil
	}

	logger := logrus.New()
	dbConfig, err := NewDatabaseConfig(dbDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	defer dbConfig.Close()

	if err := dbConfig.Apply(config); err != nil {
		return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
	}
	logger.Info("已从数据库加载配置")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFromFile 从文件加载配置，文件为空时只使用默认值和环境变量
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.Chain.ChainID = models.NormalizeChainID(config.Chain.ChainID)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...interface{}) error {
		return errors.ErrConfigInvalid.Wrap(fmt.Errorf(format, args...)).WithContext("field", field)
	}

	if c.Chain.ChainID == "" || !strings.HasPrefix(c.Chain.ChainID, "0x") {
		return invalid("chain.chain_id", "链ID必须是十六进制字符串: %q", c.Chain.ChainID)
	}
	if len(c.Chain.RPCURLs) == 0 {
		return invalid("chain.rpc_urls", "至少需要一个RPC地址")
	}
	if c.Registry == nil || !common.IsHexAddress(c.Registry.Contract) {
		return invalid("registry.contract", "合约地址无效")
	}
	if c.Registry.Workers <= 0 {
		return invalid("registry.workers", "并发数必须大于0")
	}
	if c.Registry.RefreshDelay < 0 {
		return invalid("registry.refresh_delay", "刷新延迟不能为负数")
	}
	if c.API != nil && (c.API.Port <= 0 || c.API.Port > 65535) {
		return invalid("api.port", "端口无效: %d", c.API.Port)
	}
	for _, node := range c.Nodes {
		if node.URL == "" {
			return invalid("nodes", "节点 %s 缺少URL", node.Name)
		}
	}
	return nil
}

// ReadNodes 只读节点列表，未配置时使用链的RPC地址
func (c *Config) ReadNodes() []*NodeConfig {
	if len(c.Nodes) > 0 {
		return c.Nodes
	}
	nodes := make([]*NodeConfig, 0, len(c.Chain.RPCURLs))
	for i, url := range c.Chain.RPCURLs {
		nodes = append(nodes, &NodeConfig{
			Name:     fmt.Sprintf("chain_rpc_%d", i),
			URL:      url,
			Priority: i + 1,
		})
	}
	return nodes
}

// WalletRPCURL 钱包使用的RPC地址
func (c *Config) WalletRPCURL() string {
	if c.Wallet != nil && c.Wallet.RPCURL != "" {
		return c.Wallet.RPCURL
	}
	if len(c.Chain.RPCURLs) > 0 {
		return c.Chain.RPCURLs[0]
	}
	return ""
}

// GetDefaultConfig 获取默认配置（Polygon主网）
func GetDefaultConfig() *Config {
	return &Config{
		Chain: models.ChainInfo{
			ChainID:   "0x89",
			ChainName: "Polygon Mainnet",
			RPCURLs:   []string{"https://polygon-rpc.com/"},
			NativeCurrency: models.NativeCurrency{
				Name:     "MATIC",
				Symbol:   "MATIC",
				Decimals: 18,
			},
			BlockExplorerURLs: []string{"https://polygonscan.com/"},
		},
		Registry: &RegistryConfig{
			Contract:            "0x4D71207a07406ab6cedA03f8E7e7bE3eB30bECe0",
			TLD:                 ".w3",
			RefreshDelay:        2 * time.Second,
			ReceiptPollInterval: time.Second,
			Workers:             8,
		},
		Wallet: &WalletConfig{
			WatchInterval: 3 * time.Second,
		},
		Journal: &JournalConfig{
			Path: "./data/journal.db",
		},
		Output: &OutputConfig{
			Format:    "none",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"events":       "w3up_events",
					"transactions": "w3up_transactions",
				},
			},
		},
		API: &APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Mode: "release",
		},
		Retry: &retry.RetryConfig{
			MaxAttempts:         retry.ReadRetryConfig.MaxAttempts,
			InitialInterval:     retry.ReadRetryConfig.InitialInterval,
			MaxInterval:         retry.ReadRetryConfig.MaxInterval,
			BackoffFactor:       retry.ReadRetryConfig.BackoffFactor,
			RandomizationFactor: retry.ReadRetryConfig.RandomizationFactor,
			EnableJitter:        retry.ReadRetryConfig.EnableJitter,
		},
		Logging: logging.DefaultLogConfig(),
	}
}
