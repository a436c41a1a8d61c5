package core

import (
	"context"
	"sync"
	"time"

	"messages-gateway/core/adapter"
	"messages-gateway/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ModelCatalog 缓存主后端和 Azure 的模型列表
type ModelCatalog struct {
	router *Router
	logger logrus.FieldLogger

	mutex   sync.RWMutex
	primary []models.ModelInfo
	azure   []models.ModelInfo
	loaded  bool
}

func NewModelCatalog(router *Router, logger logrus.FieldLogger) *ModelCatalog {
	return &ModelCatalog{router: router, logger: logger}
}

// Refresh 并发拉取两侧模型；任一侧失败只记录日志，该侧列表置空
func (m *ModelCatalog) Refresh(ctx context.Context) {
	var primary, azure []models.ModelInfo

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		primary = m.fetch(gctx, m.router.Primary())
		return nil
	})
	if b := m.router.Azure(); b != nil {
		g.Go(func() error {
			azure = m.fetch(gctx, b)
			return nil
		})
	}
	_ = g.Wait()

	m.mutex.Lock()
	m.primary, m.azure, m.loaded = primary, azure, true
	m.mutex.Unlock()

	m.logger.Infof("📚 Model catalog refreshed: %d primary, %d azure", len(primary), len(azure))
}

func (m *ModelCatalog) fetch(ctx context.Context, b adapter.Backend) []models.ModelInfo {
	list, err := b.ListModels(ctx)
	if err != nil {
		m.logger.WithField("backend", b.Name()).Warnf("⚠️ Failed to list models: %v", err)
		return nil
	}
	return list
}

// List 返回 /v1/models 条目，缓存为空时惰性刷新
func (m *ModelCatalog) List(ctx context.Context) []models.ModelEntry {
	m.mutex.RLock()
	empty := !m.loaded || len(m.primary)+len(m.azure) == 0
	m.mutex.RUnlock()
	if empty {
		m.Refresh(ctx)
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]models.ModelEntry, 0, len(m.primary)+len(m.azure))
	for _, info := range m.primary {
		// 主后端不提供创建时间
		info.Created = 0
		out = append(out, toEntry(info))
	}
	for _, info := range m.azure {
		out = append(out, toEntry(info))
	}
	return out
}

func toEntry(info models.ModelInfo) models.ModelEntry {
	name := info.DisplayName
	if name == "" {
		name = info.ID
	}
	return models.ModelEntry{
		ID:          info.ID,
		Object:      "model",
		Type:        "model",
		Created:     info.Created,
		CreatedAt:   time.Unix(info.Created, 0).UTC().Format(time.RFC3339),
		OwnedBy:     info.OwnedBy,
		DisplayName: name,
	}
}
