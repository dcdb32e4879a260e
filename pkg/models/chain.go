package models

// NativeCurrency 链原生代币描述
type NativeCurrency struct {
	Name     string `json:"name" mapstructure:"name"`
	Symbol   string `json:"symbol" mapstructure:"symbol"`
	Decimals int    `json:"decimals" mapstructure:"decimals"`
}

// ChainInfo 目标链信息，字段与 wallet_addEthereumChain 参数一致
type ChainInfo struct {
	ChainID           string         `json:"chainId" mapstructure:"chain_id"`
	ChainName         string         `json:"chainName" mapstructure:"chain_name"`
	RPCURLs           []string       `json:"rpcUrls" mapstructure:"rpc_urls"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency" mapstructure:"native_currency"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls" mapstructure:"block_explorer_urls"`
}

// ExplorerURL 第一个区块浏览器地址（保证以 / 结尾）
func (c ChainInfo) ExplorerURL() string {
	if len(c.BlockExplorerURLs) == 0 {
		return ""
	}
	url := c.BlockExplorerURLs[0]
	if url != "" && url[len(url)-1] != '/' {
		url += "/"
	}
	return url
}

// TxURL 交易浏览器链接
func (c ChainInfo) TxURL(hash string) string {
	base := c.ExplorerURL()
	if base == "" {
		return hash
	}
	return base + "tx/" + hash
}

// AddressURL 地址浏览器链接
func (c ChainInfo) AddressURL(addr string) string {
	base := c.ExplorerURL()
	if base == "" {
		return addr
	}
	return base + "address/" + addr
}
