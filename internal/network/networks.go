package network

import "w3up/pkg/models"

// knownNetworks 常见链ID与显示名称
var knownNetworks = map[string]string{
	"0x1":     "Mainnet",
	"0x3":     "Ropsten",
	"0x2a":    "Kovan",
	"0x4":     "Rinkeby",
	"0x5":     "Goerli",
	"0x61":    "BSC Testnet",
	"0x38":    "BSC Mainnet",
	"0x89":    "Polygon Mainnet",
	"0x13881": "Polygon Mumbai Testnet",
	"0xa86a":  "AVAX Mainnet",
}

// Label 链ID对应的显示名称，未知链返回空字符串
func Label(chainID string) string {
	return knownNetworks[models.NormalizeChainID(chainID)]
}

// KnownNetworks 返回网络表副本
func KnownNetworks() map[string]string {
	out := make(map[string]string, len(knownNetworks))
	for k, v := range knownNetworks {
		out[k] = v
	}
	return out
}
