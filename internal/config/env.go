package config

import (
	"fmt"
	"os"
	"strings"
)

// 环境变量名称。凭据一律通过环境变量注入，不进入配置文件。
const (
	EnvVarEnvironment   = "BIDDY_ENV"
	EnvVarOpenAIKey     = "OPENAI_API_KEY"
	EnvVarPinataJWT     = "PINATA_JWT"
	EnvVarPinataGateway = "PINATA_GATEWAY"
)

// ResolveEnvironment 根据 BIDDY_ENV 解析部署环境，默认为 development。
func ResolveEnvironment() Environment {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvVarEnvironment))) {
	case "production", "prod":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// custodyEnvNames 返回当前环境下托管钱包凭据的环境变量名。
func custodyEnvNames(env Environment) (name, secret string) {
	prefix := "DEV"
	if env == EnvProduction {
		prefix = "PROD"
	}
	return prefix + "_CUSTODY_API_KEY_NAME", prefix + "_CUSTODY_API_KEY_SECRET"
}

// RequiredEnv 列出当前配置下必须设置的环境变量。
func (c *Config) RequiredEnv() []string {
	required := []string{EnvVarOpenAIKey, EnvVarPinataJWT, EnvVarPinataGateway}
	if c.Wallet.Provider == "custody" {
		name, secret := custodyEnvNames(c.Environment)
		required = append(required, name, secret)
	}
	return required
}

// ValidateEnvironment 检查必需的环境变量，缺失时一次性列出所有名称。
// 启动阶段必须在获取任何网络资源之前调用。
func (c *Config) ValidateEnvironment() error {
	var missing []string
	for _, name := range c.RequiredEnv() {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少必需的环境变量: %s", strings.Join(missing, ", "))
	}
	return nil
}

// OpenAIKey 返回 OpenAI API Key。
func OpenAIKey() string {
	return strings.TrimSpace(os.Getenv(EnvVarOpenAIKey))
}

// PinataJWT 返回 Pinata 的访问令牌。
func PinataJWT() string {
	return strings.TrimSpace(os.Getenv(EnvVarPinataJWT))
}

// PinataGateway 返回 Pinata 专属网关主机名。
func PinataGateway() string {
	return strings.TrimSpace(os.Getenv(EnvVarPinataGateway))
}

// CustodyCredentials 返回当前环境下的托管钱包凭据。
func (c *Config) CustodyCredentials() (keyName, keySecret string) {
	name, secret := custodyEnvNames(c.Environment)
	return strings.TrimSpace(os.Getenv(name)), strings.TrimSpace(os.Getenv(secret))
}
