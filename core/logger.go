package core

import (
	"context"
	"sync"
	"time"

	"messages-gateway/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AsyncRequestLogger 异步请求日志记录器
type AsyncRequestLogger struct {
	db        *gorm.DB
	logChan   chan *models.RequestLog
	logger    logrus.FieldLogger
	batchSize int
	flushTime time.Duration
	keepRows  int
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewAsyncRequestLogger 创建新的异步日志记录器，db 为 nil 时丢弃所有日志
func NewAsyncRequestLogger(db *gorm.DB, logger logrus.FieldLogger, keepRows int) *AsyncRequestLogger {
	l := &AsyncRequestLogger{
		db:        db,
		logChan:   make(chan *models.RequestLog, 1000), // 缓冲 1000 条
		logger:    logger,
		batchSize: 100,             // 批量插入大小
		flushTime: 5 * time.Second, // 最长等待时间
		keepRows:  keepRows,
		quit:      make(chan struct{}),
	}
	if db != nil {
		l.startWorker()
	}
	return l
}

// Log 提交日志到队列
func (l *AsyncRequestLogger) Log(log *models.RequestLog) {
	if l == nil || l.db == nil || log == nil {
		return
	}
	select {
	case l.logChan <- log:
	default:
		// 如果队列满了，丢弃日志以防止阻塞业务
		l.logger.Warn("Log channel full, dropping request log")
	}
}

// startWorker 启动后台写入 Worker
func (l *AsyncRequestLogger) startWorker() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.workerLoop()
	}()
}

// workerLoop 核心循环
func (l *AsyncRequestLogger) workerLoop() {
	var batch []*models.RequestLog
	timer := time.NewTicker(l.flushTime)
	defer timer.Stop()

	for {
		select {
		case log := <-l.logChan:
			batch = append(batch, log)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = nil
			}
		case <-timer.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.quit:
			// 退出前取完队列并刷新剩余日志
		drain:
			for {
				select {
				case log := <-l.logChan:
					batch = append(batch, log)
				default:
					break drain
				}
			}
			l.flush(batch)
			return
		}
	}
}

// flush 批量写入数据库并更新统计
func (l *AsyncRequestLogger) flush(logs []*models.RequestLog) {
	if len(logs) == 0 {
		return
	}

	l.logger.Debugf("[Logger] Flushing %d logs to DB...", len(logs))

	// 1. 批量插入日志
	if err := l.db.CreateInBatches(logs, len(logs)).Error; err != nil {
		l.logger.Errorf("[Logger] Failed to flush logs: %v", err)
	}

	// 2. 聚合统计更新
	type statKey struct{ model, backend string }
	deltas := make(map[statKey]*models.ModelStats)
	for _, log := range logs {
		if log.Model == "" {
			continue
		}
		k := statKey{log.Model, log.Backend}
		d, ok := deltas[k]
		if !ok {
			d = &models.ModelStats{ModelName: log.Model, Backend: log.Backend}
			deltas[k] = d
		}
		d.RequestCount++
		if log.StatusCode >= 200 && log.StatusCode < 500 && log.StatusCode != 429 {
			d.Success++
		} else {
			d.Error++
		}
		d.TotalLatency += float64(log.Duration)
		d.InputTokens += int64(log.InputTokens)
		d.OutputTokens += int64(log.OutputTokens)
	}

	for _, d := range deltas {
		err := l.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "model_name"}, {Name: "backend"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"success":       gorm.Expr("model_stats.success + ?", d.Success),
				"error":         gorm.Expr("model_stats.error + ?", d.Error),
				"total_latency": gorm.Expr("model_stats.total_latency + ?", d.TotalLatency),
				"request_count": gorm.Expr("model_stats.request_count + ?", d.RequestCount),
				"input_tokens":  gorm.Expr("model_stats.input_tokens + ?", d.InputTokens),
				"output_tokens": gorm.Expr("model_stats.output_tokens + ?", d.OutputTokens),
				"updated_at":    time.Now(),
			}),
		}).Create(d).Error
		if err != nil {
			l.logger.Errorf("[Logger] Failed to update stats for %s/%s: %v", d.Backend, d.ModelName, err)
		}
	}

	// 3. 清理: 只保留最新的 keepRows 条
	l.prune()
}

func (l *AsyncRequestLogger) prune() {
	if l.keepRows <= 0 {
		return
	}
	var count int64
	l.db.Model(&models.RequestLog{}).Count(&count)
	if count <= int64(l.keepRows) {
		return
	}
	var pivotID uint
	// 找到第 keepRows 条最新的日志 ID
	l.db.Model(&models.RequestLog{}).Select("id").Order("id desc").Offset(l.keepRows).Limit(1).Scan(&pivotID)
	if pivotID > 0 {
		// 删除比它旧的所有记录
		l.db.Where("id <= ?", pivotID).Delete(&models.RequestLog{})
	}
}

// Stats 返回按模型排序的聚合统计
func (l *AsyncRequestLogger) Stats(ctx context.Context) ([]models.ModelStats, error) {
	if l == nil || l.db == nil {
		return []models.ModelStats{}, nil
	}
	var stats []models.ModelStats
	err := l.db.WithContext(ctx).Order("model_name asc, backend asc").Find(&stats).Error
	return stats, err
}

// Recent 返回最近的请求日志
func (l *AsyncRequestLogger) Recent(ctx context.Context, limit int) ([]models.RequestLog, error) {
	if l == nil || l.db == nil {
		return []models.RequestLog{}, nil
	}
	var logs []models.RequestLog
	err := l.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}

// Close 关闭日志记录器，刷新队列中剩余的日志
func (l *AsyncRequestLogger) Close() {
	if l == nil || l.db == nil {
		return
	}
	l.closeOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
	})
}
