package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"messages-gateway/models"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestAsyncRequestLoggerFlushOnClose(t *testing.T) {
	db := openTestDB(t)
	log, _ := test.NewNullLogger()
	l := NewAsyncRequestLogger(db, log, 3)

	for i := 0; i < 5; i++ {
		status := 200
		if i == 4 {
			status = 502
		}
		l.Log(&models.RequestLog{
			CreatedAt:    time.Now(),
			RequestID:    fmt.Sprintf("r%d", i),
			Model:        "gpt-4o",
			Backend:      "openai",
			StatusCode:   status,
			Duration:     100,
			InputTokens:  10,
			OutputTokens: 2,
		})
	}
	l.Close()
	l.Close()

	var count int64
	require.NoError(t, db.Model(&models.RequestLog{}).Count(&count).Error)
	assert.Equal(t, int64(3), count, "pruned to keep_rows")

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	s := stats[0]
	assert.Equal(t, "gpt-4o", s.ModelName)
	assert.Equal(t, 5, s.RequestCount)
	assert.Equal(t, 4, s.Success)
	assert.Equal(t, 1, s.Error)
	assert.Equal(t, int64(50), s.InputTokens)
	assert.Equal(t, float64(100), s.AvgLatency())
}

func TestAsyncRequestLoggerUpsertAccumulates(t *testing.T) {
	db := openTestDB(t)
	log, _ := test.NewNullLogger()
	l := NewAsyncRequestLogger(db, log, 0)
	defer l.Close()

	l.flush([]*models.RequestLog{
		{Model: "a", Backend: "openai", StatusCode: 200, Duration: 10},
		{Model: "b", Backend: "azure", StatusCode: 429, Duration: 30},
		{Model: "", Backend: "openai", StatusCode: 400},
	})
	l.flush([]*models.RequestLog{
		{Model: "a", Backend: "openai", StatusCode: 400, Duration: 20, OutputTokens: 7},
	})

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "a", stats[0].ModelName)
	assert.Equal(t, 2, stats[0].RequestCount)
	assert.Equal(t, 2, stats[0].Success, "4xx other than 429 counts as success")
	assert.Equal(t, float64(30), stats[0].TotalLatency)
	assert.Equal(t, int64(7), stats[0].OutputTokens)

	assert.Equal(t, "b", stats[1].ModelName)
	assert.Equal(t, 1, stats[1].Error)

	recent, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}

func TestAsyncRequestLoggerDisabled(t *testing.T) {
	log, _ := test.NewNullLogger()
	l := NewAsyncRequestLogger(nil, log, 10)
	l.Log(&models.RequestLog{Model: "x"})
	l.Close()

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)

	var nilLogger *AsyncRequestLogger
	nilLogger.Log(&models.RequestLog{})
	nilLogger.Close()
}
