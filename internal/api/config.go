package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConfigStore 可写配置源，*config.DatabaseConfig 满足该接口
type ConfigStore interface {
	ListConfigs() (map[string]string, error)
	GetConfig(key string) (string, error)
	UpdateConfig(key, value string) error
}

// ConfigManager 配置管理器
type ConfigManager struct {
	store  ConfigStore
	logger *logrus.Logger
}

// NewConfigManager 创建配置管理器
func NewConfigManager(store ConfigStore, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		store:  store,
		logger: logger,
	}
}

// GetConfig 获取配置，带key参数时只返回单项
func (cm *ConfigManager) GetConfig(c *gin.Context) {
	key := c.Query("key")

	if key == "" {
		configs, err := cm.store.ListConfigs()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "获取配置失败",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"configs": configs})
		return
	}

	value, err := cm.store.GetConfig(key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "配置不存在",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
	})
}

// UpdateConfig 更新配置，重启后生效
func (cm *ConfigManager) UpdateConfig(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	if err := cm.store.UpdateConfig(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	cm.logger.WithField("key", req.Key).Info("配置已更新")
	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功",
		"config": gin.H{
			"key":   req.Key,
			"value": req.Value,
		},
	})
}
