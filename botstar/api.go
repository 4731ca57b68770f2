package botstar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	apiPrefix               = "/api"
	apiHealthCheck          = "/healthz"
	apiPathUserActivity     = "/users/:id/activity"
	apiPathUserActivityCard = "/users/:id/activity/card"

	xRequestIDHeader = "X-Request-ID"
)

type apiContextKey string

const loggerContextKey apiContextKey = "api_logger"

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// API is the bot's read-only HTTP API: a health check plus endpoints
// exposing publicly-visible activity timelines, as JSON or as a rendered
// PNG card.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	limiter    *rate.Limiter
	logger     *slog.Logger
	bot        *BotStar
}

// newAPI initializes the API server: the gin engine, middleware stack
// and routes.
func newAPI(b *BotStar, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, fmt.Errorf("nil api config")
	}
	logger := slog.New(
		newLogHandler(os.Stdout, config.LogLevel),
	).With(loggerNameKey, "api")

	r := gin.New()
	api := &API{
		config: config,
		engine: r,
		logger: logger,
		bot:    b,
		limiter: rate.NewLimiter(
			rate.Limit(config.RequestsPerSecond),
			config.RequestBurst,
		),
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		rateLimitMiddleware(api.limiter),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.healthCheck)

	group := r.Group(apiPrefix)
	group.GET(apiPathUserActivity, api.getUserActivity)
	group.GET(apiPathUserActivityCard, api.getUserActivityCard)

	return api, nil
}

// Serve starts the HTTP server and blocks until it exits.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, "tcp", a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.Info("api listening", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

// Shutdown gracefully stops the HTTP server.
func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// userActivityResponse is the JSON payload for the activity endpoint.
type userActivityResponse struct {
	UserID    string           `json:"user_id"`
	StartMs   int64            `json:"start_ms"`
	EndMs     int64            `json:"end_ms"`
	Timezone  string           `json:"timezone"`
	Buckets   []TimelineBucket `json:"buckets"`
	Summaries []GroupSummary   `json:"summaries"`
	Devices   []DeviceRun      `json:"devices"`
	Legend    []string         `json:"legend"`
}

// lookupUser returns the stored user row for an API request, refreshing
// the cache on a miss. Users with no row wrap [ErrUserNotFound].
func (a *API) lookupUser(userID string) (*User, error) {
	user := a.bot.writeDB.GetUser(userID)
	if user == nil {
		user = a.bot.writeDB.ReloadUser(userID)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return user, nil
}

// activityForRequest loads and reconstructs a publicly-visible user's
// timeline for an API request, writing the error response itself when it
// returns a nil result.
func (a *API) activityForRequest(c *gin.Context) *userActivityResponse {
	logger := ginContextLogger(c)
	userID := c.Param("id")
	ctx := c.Request.Context()

	user, err := a.lookupUser(userID)
	if err != nil {
		logger.Debug("user lookup failed", tint.Err(err))
		c.JSON(http.StatusNotFound, httpError{Error: "user not found"})
		return nil
	}
	switch user.TrackingVisibility {
	case TrackingPublic:
	case TrackingPrivate:
		c.JSON(http.StatusForbidden, httpError{Error: "activity is private"})
		return nil
	default:
		c.JSON(http.StatusNotFound, httpError{Error: "user not found"})
		return nil
	}

	tracking := a.bot.config.Tracking
	window := tracking.HistoryWindow
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > tracking.Retention {
			c.JSON(http.StatusBadRequest, httpError{Error: "invalid window"})
			return nil
		}
		window = parsed
	}
	interval := tracking.BucketInterval
	if raw := c.Query("interval"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > window {
			c.JSON(http.StatusBadRequest, httpError{Error: "invalid interval"})
			return nil
		}
		interval = parsed
	}

	now := time.Now().UTC()
	endMs := now.UnixMilli()
	startMs := now.Add(-window).UnixMilli()

	records, err := a.bot.writeDB.ActivitySince(ctx, user.ID, startMs)
	if err != nil {
		logger.Error("error querying activity", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting activity"},
		)
		return nil
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, httpError{Error: "no activity data"})
		return nil
	}

	buckets := ReconstructTimeline(records, startMs, endMs, interval.Milliseconds())
	summaries, err := SummarizeBuckets(buckets, 1)
	if err != nil {
		logger.Error("error summarizing timeline", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error summarizing activity"},
		)
		return nil
	}
	legend, err := GenerateTimeLabels(
		startMs,
		endMs,
		tracking.LegendLabelCount,
		GranularityHours,
		user.Location(tracking.DefaultTimezone),
	)
	if err != nil {
		logger.Error("error generating legend", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error generating legend"},
		)
		return nil
	}

	return &userActivityResponse{
		UserID:    user.ID,
		StartMs:   startMs,
		EndMs:     endMs,
		Timezone:  user.Timezone,
		Buckets:   buckets,
		Summaries: summaries,
		Devices:   MergeDeviceRuns(buckets),
		Legend:    legend,
	}
}

// getUserActivity returns a user's reconstructed timeline as JSON.
func (a *API) getUserActivity(c *gin.Context) {
	if activity := a.activityForRequest(c); activity != nil {
		c.JSON(http.StatusOK, activity)
	}
}

// getUserActivityCard returns a user's activity card as a PNG image.
func (a *API) getUserActivityCard(c *gin.Context) {
	logger := ginContextLogger(c)
	activity := a.activityForRequest(c)
	if activity == nil {
		return
	}

	user, err := a.lookupUser(activity.UserID)
	if err != nil {
		logger.Error("user lookup failed", tint.Err(err))
		c.JSON(http.StatusNotFound, httpError{Error: "user not found"})
		return
	}
	window := time.Duration(activity.EndMs-activity.StartMs) * time.Millisecond
	card := NewUserActivityCard(
		CardUser{
			ID:          user.ID,
			DisplayName: user.String(),
			Presence:    activity.Buckets[len(activity.Buckets)-1].Presence,
		},
		historyWindowLabel(window),
	)
	if err := card.Init(c.Request.Context(), nil); err != nil {
		logger.Error("error initializing card", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error rendering card"},
		)
		return
	}
	if err := card.RenderTimeline(
		activity.Summaries, activity.Devices, activity.Legend,
	); err != nil {
		logger.Error("error rendering timeline", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error rendering card"},
		)
		return
	}
	png, err := card.EncodePNG()
	if err != nil {
		logger.Error("error encoding card", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error rendering card"},
		)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// GINConfig converts CORSConfig into a gin-contrib cors config.
func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:  c.AllowOrigins,
		AllowMethods:  c.AllowMethods,
		AllowHeaders:  c.AllowHeaders,
		ExposeHeaders: c.ExposeHeaders,
		MaxAge:        c.MaxAge,
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, echoed back in the X-Request-ID response header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// rateLimitMiddleware bounds the request rate across all endpoints.
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		reservation := limiter.Reserve()
		if retryAfter := reservation.Delay(); retryAfter > 0 {
			reservation.Cancel()
			c.Header(
				"Retry-After",
				strconv.Itoa(int(retryAfter.Seconds())+1),
			)
			c.AbortWithStatusJSON(
				http.StatusTooManyRequests,
				httpError{Error: "rate limit exceeded"},
			)
			return
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's method, path and duration,
// along with any accumulated errors.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errors.Join(errs...),
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}
