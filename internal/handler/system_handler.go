package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const metricsInterval = 7 * time.Second

// LiveCounter reports how many attempt controllers this process runs.
type LiveCounter interface {
	Live() int
}

// SystemHandler reports runtime, queue and attempt metrics.
type SystemHandler struct {
	rdb       *redis.Client
	attempts  LiveCounter
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, attempts LiveCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		attempts:  attempts,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Attempts
	LiveControllers int   `json:"live_controllers"`
	OpenAttempts    int64 `json:"open_attempts"`
	OverdueAttempts int64 `json:"overdue_attempts"`

	// Worker Queues
	QueueViolations int64 `json:"queue_violations"`
	QueueDrafts     int64 `json:"queue_drafts"`
}

// GetStatus godoc
// GET /api/v1/admin/system/status
func (h *SystemHandler) GetStatus(c *gin.Context) {
	response.Success(c, http.StatusOK, h.collect(c.Request.Context()))
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Admin connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Admin disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	c.Writer.Write(ssePrefix)
	c.Writer.Write(data)
	c.Writer.Write(sseSuffix)
	c.Writer.Flush()
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	now := time.Now()
	m := systemMetrics{
		Timestamp:       now.Unix(),
		Uptime:          formatDuration(now.Sub(h.startTime)),
		GoVersion:       runtime.Version(),
		NumCPU:          runtime.NumCPU(),
		LiveControllers: h.attempts.Live(),
	}

	// ── Go Runtime ──
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.StackInuse = ms.StackInuse
	m.NumGC = ms.NumGC

	// ── Queues and deadline index (pipelined) ──
	index := config.CacheKey.AttemptDeadlineIndexKey()
	pipe := h.rdb.Pipeline()
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	draftsCmd := pipe.LLen(ctx, config.WorkerKey.PersistDraftsQueue)
	openCmd := pipe.ZCard(ctx, index)
	overdueCmd := pipe.ZCount(ctx, index, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Collect queue metrics failed")
		return m
	}
	m.QueueViolations, _ = violationsCmd.Result()
	m.QueueDrafts, _ = draftsCmd.Result()
	m.OpenAttempts, _ = openCmd.Result()
	m.OverdueAttempts, _ = overdueCmd.Result()

	return m
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
