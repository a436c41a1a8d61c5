package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"messages-gateway/config"
	"messages-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// AzurePrefix 选择 Azure 后端的模型 ID 前缀
const AzurePrefix = "azure_openai_"

// IsAzureModel reports whether model routes to Azure.
func IsAzureModel(model string) bool {
	return strings.HasPrefix(model, AzurePrefix)
}

// DeploymentName strips the Azure prefix.
func DeploymentName(model string) string {
	return strings.TrimPrefix(model, AzurePrefix)
}

// AzureBackend Azure OpenAI 部署
type AzureBackend struct {
	creds                 AzureCredentials
	apiVersion            string
	deploymentsAPIVersion string
	timeout               time.Duration

	client *http.Client
	logger logrus.FieldLogger
}

func NewAzureBackend(creds AzureCredentials, cfg config.AzureConfig, timeout time.Duration, client *http.Client, logger logrus.FieldLogger) *AzureBackend {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-10-21"
	}
	deploymentsVersion := cfg.DeploymentsAPIVersion
	if deploymentsVersion == "" {
		deploymentsVersion = "2022-12-01"
	}
	return &AzureBackend{
		creds:                 creds.normalize(),
		apiVersion:            apiVersion,
		deploymentsAPIVersion: deploymentsVersion,
		timeout:               timeout,
		client:                client,
		logger:                logger.WithField("backend", "azure"),
	}
}

func (b *AzureBackend) Name() string { return "azure" }

// Endpoint is used in health output.
func (b *AzureBackend) Endpoint() string { return b.creds.Endpoint }

func (b *AzureBackend) ChatCompletion(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &UpstreamError{Backend: b.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

func (b *AzureBackend) StreamChatCompletion(ctx context.Context, req *models.ChatCompletionRequest) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := b.send(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	return NewStream(resp.Body, cancel), nil
}

func (b *AzureBackend) send(ctx context.Context, req *models.ChatCompletionRequest) (*http.Response, error) {
	deployment := DeploymentName(req.Model)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	body, err = RewriteAzurePayload(body, deployment)
	if err != nil {
		return nil, fmt.Errorf("rewrite azure payload: %w", err)
	}

	target := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		b.creds.Endpoint, url.PathEscape(deployment), url.QueryEscape(b.apiVersion))

	resp, err := b.do(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, &UpstreamError{Backend: b.Name(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upErr := newStatusError(b.Name(), resp)
		b.logger.Warnf("⚠️ Azure deployment %s failed: %d - %s", deployment, upErr.StatusCode, upErr.Message())
		return nil, upErr
	}
	return resp, nil
}

// RewriteAzurePayload 将 model 改为部署名，并把 max_tokens 改写为 max_completion_tokens
func RewriteAzurePayload(body []byte, deployment string) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", deployment)
	if err != nil {
		return nil, err
	}
	if maxTokens := gjson.GetBytes(out, "max_tokens"); maxTokens.Exists() {
		if out, err = sjson.SetRawBytes(out, "max_completion_tokens", []byte(maxTokens.Raw)); err != nil {
			return nil, err
		}
		if out, err = sjson.DeleteBytes(out, "max_tokens"); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *AzureBackend) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("api-key", b.creds.APIKey)
	return b.client.Do(req)
}

// ListModels 列出状态为 succeeded 的部署
func (b *AzureBackend) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	target := fmt.Sprintf("%s/openai/deployments?api-version=%s",
		b.creds.Endpoint, url.QueryEscape(b.deploymentsAPIVersion))

	resp, err := b.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{Backend: b.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(b.Name(), resp)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Backend: b.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	var out []models.ModelInfo
	gjson.GetBytes(data, "data").ForEach(func(_, d gjson.Result) bool {
		if d.Get("status").String() != "succeeded" {
			return true
		}
		id := d.Get("id").String()
		if id == "" {
			return true
		}
		owner := d.Get("owner").String()
		if owner == "" {
			owner = "azure-openai"
		}
		out = append(out, models.ModelInfo{
			ID:          AzurePrefix + id,
			OwnedBy:     owner,
			DisplayName: fmt.Sprintf("%s (%s)", id, d.Get("model").String()),
			Created:     d.Get("created_at").Int(),
		})
		return true
	})
	return out, nil
}
