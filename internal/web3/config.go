package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRPCURL is the public endpoint used when nothing else is configured.
const DefaultRPCURL = "https://mainnet.base.org"

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Default  string                       `yaml:"default"`
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition describes a single network endpoint and the token
// deployed on it, if any.
type NetworkDefinition struct {
	Type            string `yaml:"type"`
	ChainID         uint64 `yaml:"chain_id"`
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	Description     string `yaml:"description"`
}

// LoadNetworkDefinitions parses the YAML file containing network metadata.
// An empty path yields an empty catalogue.
func LoadNetworkDefinitions(path string) (NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinitions{Networks: map[string]NetworkDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinitions{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return NetworkDefinitions{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]NetworkDefinition{}
	}
	for name, def := range defs.Networks {
		def.Type = strings.ToLower(strings.TrimSpace(def.Type))
		if def.Type == "" {
			def.Type = "evm"
		}
		if def.Type != "evm" {
			return NetworkDefinitions{}, fmt.Errorf("网络 %s 使用了不支持的类型 %s", name, def.Type)
		}
		if strings.TrimSpace(def.RPCURL) == "" {
			return NetworkDefinitions{}, fmt.Errorf("网络 %s 缺少 rpc_url", name)
		}
		defs.Networks[name] = def
	}
	return defs, nil
}

// Lookup resolves a network by name; an empty name selects the catalogue
// default, falling back to the alphabetically first entry.
func (d NetworkDefinitions) Lookup(name string) (NetworkDefinition, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = d.Default
	}
	if name == "" {
		names := d.Names()
		if len(names) == 0 {
			return NetworkDefinition{}, false
		}
		name = names[0]
	}
	def, ok := d.Networks[name]
	return def, ok
}

// Names returns the sorted network names.
func (d NetworkDefinitions) Names() []string {
	names := make([]string, 0, len(d.Networks))
	for name := range d.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
