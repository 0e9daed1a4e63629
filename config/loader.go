package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Load 从 YAML 文件加载配置并补齐默认值；file 为空时只返回默认配置。
func Load(file string) (Config, error) {
	var c Config
	if file == "" {
		return c.WithDefaults(), nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c.WithDefaults(), nil
}

// MustLoad 从 YAML 文件加载配置（失败 panic）。
func MustLoad(file string) Config {
	c, err := Load(file)
	if err != nil {
		panic(err)
	}
	return c
}
