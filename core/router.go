package core

import (
	"messages-gateway/core/adapter"
)

// Router 根据模型 ID 前缀选择后端
type Router struct {
	primary adapter.Backend
	azure   adapter.Backend
}

// NewRouter azure may be nil when Azure is not configured.
func NewRouter(primary, azure adapter.Backend) *Router {
	return &Router{primary: primary, azure: azure}
}

// Resolve 选择后端：azure_openai_ 前缀走 Azure，其余走主后端
func (r *Router) Resolve(model string) (adapter.Backend, error) {
	if adapter.IsAzureModel(model) {
		if r.azure == nil {
			return nil, ErrAzureNotConfigured
		}
		return r.azure, nil
	}
	return r.primary, nil
}

func (r *Router) Primary() adapter.Backend { return r.primary }

func (r *Router) Azure() adapter.Backend { return r.azure }

// Backends 返回已配置的后端
func (r *Router) Backends() []adapter.Backend {
	out := []adapter.Backend{r.primary}
	if r.azure != nil {
		out = append(out, r.azure)
	}
	return out
}
