package adapter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretCodec 抽象配置文件内容的编解码
type SecretCodec interface {
	Encode(plaintext []byte) (string, error)
	Decode(encoded string) ([]byte, error)
}

// Base64Codec 默认编解码，仅做 base64，不加密
type Base64Codec struct{}

func (Base64Codec) Encode(plaintext []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (Base64Codec) Decode(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// AzureCredentials Azure OpenAI 连接信息
type AzureCredentials struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"apiKey"`
}

// Configured reports whether both fields are set.
func (c AzureCredentials) Configured() bool {
	return c.Endpoint != "" && c.APIKey != ""
}

func (c AzureCredentials) normalize() AzureCredentials {
	c.Endpoint = strings.TrimRight(strings.TrimSpace(c.Endpoint), "/")
	c.APIKey = strings.TrimSpace(c.APIKey)
	return c
}

// DefaultAzureConfigPath ~/.local/share/copilot-api/azure_openai_config
func DefaultAzureConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "copilot-api", "azure_openai_config"), nil
}

// AzureConfigStore 读写本地保存的 Azure 配置
type AzureConfigStore struct {
	path  string
	codec SecretCodec
}

func NewAzureConfigStore(path string, codec SecretCodec) *AzureConfigStore {
	if codec == nil {
		codec = Base64Codec{}
	}
	return &AzureConfigStore{path: path, codec: codec}
}

func (s *AzureConfigStore) Path() string { return s.path }

// Load returns zero credentials when the file is missing or empty. An
// unreadable or incomplete file is reported as an error; callers treat it as
// not configured.
func (s *AzureConfigStore) Load() (AzureCredentials, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return AzureCredentials{}, nil
	}
	if err != nil {
		return AzureCredentials{}, fmt.Errorf("read azure config: %w", err)
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return AzureCredentials{}, nil
	}

	plain, err := s.codec.Decode(content)
	if err != nil {
		return AzureCredentials{}, fmt.Errorf("decode azure config: %w", err)
	}
	var creds AzureCredentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return AzureCredentials{}, fmt.Errorf("parse azure config: %w", err)
	}
	creds = creds.normalize()
	if !creds.Configured() {
		return AzureCredentials{}, errors.New("azure config is missing endpoint or apiKey")
	}
	return creds, nil
}

// Save 写入配置文件 (目录 0700，文件 0600)
func (s *AzureConfigStore) Save(creds AzureCredentials) error {
	creds = creds.normalize()
	if !creds.Configured() {
		return errors.New("endpoint and api key are required")
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	encoded, err := s.codec.Encode(plain)
	if err != nil {
		return fmt.Errorf("encode azure config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("write azure config: %w", err)
	}
	// WriteFile 不会修改已存在文件的权限
	return os.Chmod(s.path, 0o600)
}

// ResolveAzureCredentials 内联配置优先于配置文件
func ResolveAzureCredentials(endpoint, apiKey string, store *AzureConfigStore) (AzureCredentials, error) {
	inline := AzureCredentials{Endpoint: endpoint, APIKey: apiKey}.normalize()
	if inline.Configured() {
		return inline, nil
	}
	if store == nil {
		return AzureCredentials{}, nil
	}
	return store.Load()
}
