package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/wash-trade-engine/internal/alert"
	"github.com/rawblock/wash-trade-engine/internal/config"
	"github.com/rawblock/wash-trade-engine/internal/metrics"
	"github.com/rawblock/wash-trade-engine/internal/pipeline"
	"github.com/rawblock/wash-trade-engine/internal/preprocess"
	"github.com/rawblock/wash-trade-engine/internal/storage"
	"github.com/rawblock/wash-trade-engine/pkg/models"
)

// APIHandler holds everything a request handler needs: the persistence
// layer (optional — nil means runs are served only from the in-memory
// cache for the life of the process), the alert hub that streams
// wash_detected events, and the alert manager that fans them out to
// webhooks.
type APIHandler struct {
	store      *storage.Store
	hub        *alert.Hub
	alerts     *alert.Manager
	baseCfg    config.Config
	runCacheMu sync.RWMutex
	runCache   map[string]pipeline.Result
}

func (h *APIHandler) cacheRun(runID string, result pipeline.Result) {
	h.runCacheMu.Lock()
	defer h.runCacheMu.Unlock()
	h.runCache[runID] = result
}

func (h *APIHandler) cachedRun(runID string) (pipeline.Result, bool) {
	h.runCacheMu.RLock()
	defer h.runCacheMu.RUnlock()
	result, ok := h.runCache[runID]
	return result, ok
}

// SetupRouter builds the gin.Engine serving §6's HTTP surface. store may
// be nil when persistence is not configured — runs are then only
// reachable from the in-process cache.
func SetupRouter(store *storage.Store, hub *alert.Hub, alerts *alert.Manager, baseCfg config.Config) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		store:    store,
		hub:      hub,
		alerts:   alerts,
		baseCfg:  baseCfg,
		runCache: make(map[string]pipeline.Result),
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", hub.Subscribe)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/runs", handler.handleCreateRun)
		auth.GET("/runs/:id", handler.handleGetRun)
		auth.GET("/runs/:id/clusters", handler.handleGetClusters)
		auth.GET("/runs/:id/compare/:otherId", handler.handleCompareRuns)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"persisted": h.store != nil,
	})
}

// createRunRequest is the POST /api/v1/runs body: raw trades plus the
// side tables preprocess.Process needs, and an optional config overlay.
type createRunRequest struct {
	Trades   []models.RawTrade          `json:"trades" binding:"required"`
	Decimals map[string]map[string]any  `json:"decimals"`
	Prices   []models.PricePoint        `json:"prices" binding:"required"`
	Config   *runConfigOverride         `json:"config"`
}

type runConfigOverride struct {
	SCCOccurrenceThreshold *int     `json:"sccOccurrenceThreshold"`
	WashMargin             *float64 `json:"washMargin"`
	WindowSizesSeconds     []int64  `json:"windowSizesSeconds"`
	WashTradeUsesETHAmount *bool    `json:"washTradeUsesEthAmount"`
}

func (o *runConfigOverride) apply(cfg config.Config) config.Config {
	if o == nil {
		return cfg
	}
	if o.SCCOccurrenceThreshold != nil {
		cfg.SCCOccurrenceThreshold = *o.SCCOccurrenceThreshold
	}
	if o.WashMargin != nil {
		cfg.WashMargin = *o.WashMargin
	}
	if len(o.WindowSizesSeconds) > 0 {
		cfg.WindowSizesSeconds = o.WindowSizesSeconds
	}
	if o.WashTradeUsesETHAmount != nil {
		cfg.WashTradeUsesETHAmount = *o.WashTradeUsesETHAmount
	}
	return cfg
}

// handleCreateRun executes the full pipeline synchronously against the
// posted trade batch and returns a run summary (§6 POST /api/v1/runs).
func (h *APIHandler) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	cfg := req.Config.apply(h.baseCfg)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config", "details": err.Error()})
		return
	}

	result, err := pipeline.Run(c.Request.Context(), req.Trades, preprocess.ParseDecimalsJSON(req.Decimals), req.Prices, cfg, h.hub)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "pipeline failed", "details": err.Error()})
		return
	}

	runID := uuid.NewString()
	h.cacheRun(runID, result)

	for sccHash, windows := range result.WashMap {
		for windowKey, txIDs := range windows {
			h.alerts.EmitWashDetected(sccHash, parseWindowKey(windowKey), txIDs, numTradersFor(result, sccHash))
		}
	}

	if h.store != nil {
		go func(runID string, result pipeline.Result) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.store.SaveRun(ctx, runID, time.Now().Unix(), result.Trades, result.Catalog.Relevant, result.Clusters); err != nil {
				// Persistence is best-effort (§4.E): the run already
				// succeeded and is served from runCache regardless.
				log.Printf("[api] failed to persist run %s: %v", runID, err)
			}
		}(runID, result)
	}

	c.JSON(http.StatusOK, gin.H{
		"runId":      runID,
		"tradeCount": len(result.Trades),
		"labelCount": countLabeled(result.Trades),
		"sccCount":   len(result.Catalog.Relevant),
		"report":     result.Report,
	})
}

func (h *APIHandler) handleGetRun(c *gin.Context) {
	runID := c.Param("id")
	if result, ok := h.cachedRun(runID); ok {
		c.JSON(http.StatusOK, gin.H{
			"runId":      runID,
			"tradeCount": len(result.Trades),
			"labelCount": countLabeled(result.Trades),
			"sccCount":   len(result.Catalog.Relevant),
			"trades":     result.Trades,
			"sccCatalog": result.Catalog.Relevant,
		})
		return
	}

	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	summary, err := h.store.GetRunSummary(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "details": err.Error()})
		return
	}
	catalog, err := h.store.GetSCCCatalog(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scc catalog", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runId":      summary.RunID,
		"tradeCount": summary.TradeCount,
		"labelCount": summary.LabelCount,
		"sccCount":   summary.SCCCount,
		"sccCatalog": catalog,
	})
}

// sccCatalogFor resolves a run's SCC catalog from the in-process cache,
// falling back to the persistence layer when the run was computed by an
// earlier process (or a different instance sharing the same database).
func (h *APIHandler) sccCatalogFor(ctx context.Context, runID string) ([]models.SCCRecord, error) {
	if result, ok := h.cachedRun(runID); ok {
		return result.Catalog.Relevant, nil
	}
	if h.store == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return h.store.GetSCCCatalog(ctx, runID)
}

// handleCompareRuns scores how closely two runs' trader-cluster
// assignments agree via ARI/VI, restricted to traders common to both
// runs' relevant SCCs (internal/metrics). This is the only consumer of
// that package: comparing a run against an earlier baseline run is the
// one place a clustering-agreement score is meaningful in this engine.
func (h *APIHandler) handleCompareRuns(c *gin.Context) {
	runID := c.Param("id")
	otherID := c.Param("otherId")

	catalogA, err := h.sccCatalogFor(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "runId": runID, "details": err.Error()})
		return
	}
	catalogB, err := h.sccCatalogFor(c.Request.Context(), otherID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "runId": otherID, "details": err.Error()})
		return
	}

	membershipA := metrics.MembershipOf(catalogA)
	membershipB := metrics.MembershipOf(catalogB)
	ari, vi := metrics.CompareAssignments(membershipA, membershipB)

	c.JSON(http.StatusOK, gin.H{
		"runId":                  runID,
		"compareRunId":           otherID,
		"adjustedRandIndex":      ari,
		"variationOfInformation": vi,
	})
}

func (h *APIHandler) handleGetClusters(c *gin.Context) {
	runID := c.Param("id")
	if result, ok := h.cachedRun(runID); ok {
		c.JSON(http.StatusOK, gin.H{"runId": runID, "clusters": result.Clusters})
		return
	}

	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	clusters, err := h.store.GetAddressClusters(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": runID, "clusters": clusters})
}

func countLabeled(trades []models.Trade) int {
	n := 0
	for _, t := range trades {
		if t.WashLabel {
			n++
		}
	}
	return n
}

func numTradersFor(result pipeline.Result, sccHash string) int {
	if members, ok := result.Catalog.Members[sccHash]; ok {
		return len(members)
	}
	return 0
}

func parseWindowKey(key string) int64 {
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
