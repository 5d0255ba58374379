package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"

	ginGzip "github.com/gin-contrib/gzip"

	"github.com/gin-gonic/gin"

	"github.com/CodeAndHammer/kasvorto/internal/article"
	constants "github.com/CodeAndHammer/kasvorto/internal/constants"
	game "github.com/CodeAndHammer/kasvorto/internal/game"
	handlers "github.com/CodeAndHammer/kasvorto/internal/handlers"
	hub "github.com/CodeAndHammer/kasvorto/internal/hub"
	models "github.com/CodeAndHammer/kasvorto/internal/models"
	store "github.com/CodeAndHammer/kasvorto/internal/store"
	util "github.com/CodeAndHammer/kasvorto/internal/util"
)

func main() {
	_ = godotenv.Load()

	isProduction := os.Getenv("GIN_MODE") == "release" || os.Getenv("ENV") == "production"
	util.LogInfo("Starting Kasvorto in %s mode", map[bool]string{true: "production", false: "development"}[isProduction])

	stopwords, err := game.LoadStopwords("data/stopwords.json")
	if err != nil {
		util.LogFatal("Failed to load stopwords: %v", err)
	}

	app := &models.App{
		StopwordSet:         stopwords,
		LimiterMap:          make(map[string]*models.RateLimiterWithTime),
		IsProduction:        isProduction,
		StartTime:           time.Now(),
		StaticCacheAge:      util.GetEnvDuration("STATIC_CACHE_AGE", 5*time.Minute),
		RateLimitRPS:        util.GetEnvInt("RATE_LIMIT_RPS", 5),
		RateLimitBurst:      util.GetEnvInt("RATE_LIMIT_BURST", 10),
		RateLimiterTTL:      util.GetEnvDuration("RATE_LIMITER_TTL", 1*time.Hour),
		GuessRateRPS:        util.GetEnvInt("GUESS_RATE_RPS", 5),
		GuessRateBurst:      util.GetEnvInt("GUESS_RATE_BURST", 15),
		ArticleFetchTimeout: util.GetEnvDuration("ARTICLE_FETCH_TIMEOUT", 8*time.Second),
	}

	source := article.NewSource(os.Getenv("WIKIPEDIA_BASE_URL"), app.ArticleFetchTimeout)
	sessions := store.New(source.Fetch)
	fanout := hub.New()
	srv := handlers.New(app, sessions, fanout)

	router := gin.Default()

	router.Use(requestIDMiddleware())
	router.Use(securityHeadersMiddleware())

	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedExtensions([]string{".svg", ".ico", ".png", ".jpg", ".jpeg", ".gif"}),
		ginGzip.WithExcludedPaths([]string{constants.RouteWS})))

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	router.Use(func(c *gin.Context) {
		applyCacheHeaders(app, c)
	})

	var baseTplDir string
	if isProduction && util.DirExists("dist") {
		util.LogInfo("Serving assets from dist/ directory")
		baseTplDir = filepath.ToSlash(filepath.Join("dist", "templates"))
		router.Static("/static", "./dist/static")
	} else {
		util.LogInfo("Serving development assets from source directories")
		baseTplDir = "templates"
		router.Static("/static", "./static")
	}
	router.LoadHTMLGlob(filepath.ToSlash(filepath.Join(baseTplDir, "*.html")))

	router.GET(constants.RouteHome, srv.HomeHandler)
	router.GET(constants.RouteGame, srv.GameHandler)
	router.GET(constants.RouteWS, rateLimitMiddleware(app), srv.WSHandler)
	router.GET(constants.RouteHealthz, srv.HealthzHandler)

	startCleanupRoutines(app)

	startServer(router)
}

func startServer(router *gin.Engine) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint
		util.LogInfo("Shutdown signal received, shutting down server gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			util.LogWarn("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	util.LogInfo("Server starting on http://localhost:%s", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		util.LogFatal("Server failed to start: %v", err)
	}
	<-idleConnsClosed
	util.LogInfo("Server shutdown complete")
}

func applyCacheHeaders(app *models.App, c *gin.Context) {
	if app.IsProduction && strings.HasPrefix(c.Request.URL.Path, "/static/") {
		cachecontrol.New(cachecontrol.Config{
			Public: true,
			MaxAge: cachecontrol.Duration(app.StaticCacheAge),
		})(c)
		c.Header("Vary", "Accept-Encoding")
		return
	}
	cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	})(c)
}

func startCleanupRoutines(app *models.App) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			cleanupStaleRateLimiters(app)
		}
	}()

	util.LogInfo("Started cleanup routine for rate limiters")
}

func cleanupStaleRateLimiters(app *models.App) {
	app.LimiterMutex.Lock()
	defer app.LimiterMutex.Unlock()

	cutoffTime := time.Now().Add(-app.RateLimiterTTL)
	removedCount := 0

	for key, limWithTime := range app.LimiterMap {
		if limWithTime.LastAccess.Before(cutoffTime) {
			delete(app.LimiterMap, key)
			removedCount++
		}
	}

	if len(app.LimiterMap) > 10000 {
		util.LogInfo("Rate limiter map too large (%d entries), performing emergency cleanup", len(app.LimiterMap))

		type limiterInfo struct {
			key        string
			lastAccess time.Time
		}

		var limiters []limiterInfo
		for key, limWithTime := range app.LimiterMap {
			limiters = append(limiters, limiterInfo{key: key, lastAccess: limWithTime.LastAccess})
		}

		sort.Slice(limiters, func(i, j int) bool {
			return limiters[i].lastAccess.Before(limiters[j].lastAccess)
		})

		entriesToRemove := len(limiters) / 2
		for i := 0; i < entriesToRemove; i++ {
			delete(app.LimiterMap, limiters[i].key)
			removedCount++
		}

		util.LogInfo("Removed %d oldest rate limiters", entriesToRemove)
	}

	if removedCount > 0 {
		util.LogInfo("Cleaned up %d stale rate limiters", removedCount)
	}
}
