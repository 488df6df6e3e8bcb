package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/enroll"
	"rollcall/internal/face"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/lock"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/store"
	"rollcall/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// deps bundles everything the handlers need; tests build it with in-memory
// backends.
type deps struct {
	cfg      config.App
	lecturer roster.AttendanceRoster
	tokens   *token.Service
	enroll   *enroll.Service
	verifier *attendance.Verifier
	marker   *attendance.Marker
	events   queue.Queue
	healthy  func(ctx context.Context) (db, redis bool)
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var locks lock.Locker
	if cfg.LockBackend == "redis" {
		locks = lock.NewRedisLocker(redisClient.Client, cfg.LockTTL)
	} else {
		locks = lock.NewKeyed()
	}

	var events queue.Queue
	if cfg.QueueBackend == "redis" {
		events = queue.NewRedisQueue(redisClient.Client, "rollcall:events")
	} else {
		events = queue.NewInMemory(64)
	}

	master := roster.NewPostgresMaster(db.Client)
	lecturer := roster.NewPostgresAttendance(db.Client)
	tokens := token.NewService(cfg.TokenSigningKey, cfg.TokenIssuer)
	matcher := face.NewMatcher(cfg.MatchThreshold)

	d := deps{
		cfg:      cfg,
		lecturer: lecturer,
		tokens:   tokens,
		enroll:   enroll.NewService(master, lecturer, matcher, locks),
		verifier: attendance.NewVerifier(master, tokens, matcher),
		marker:   attendance.NewMarker(lecturer, tokens, locks),
		events:   events,
		healthy: func(ctx context.Context) (bool, bool) {
			return db.Client.PingContext(ctx) == nil, redisClient.Healthy(ctx)
		},
	}

	r := newRouter(d)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

func newRouter(d deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(d.cfg.RateLimitPerMin, d.cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbOK, redisOK := d.healthy(c.Request.Context())
		status := http.StatusOK
		if !dbOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbOK, "redis": redisOK})
	})

	r.POST("/generate-link", func(c *gin.Context) {
		var req struct {
			ClassTitle string    `json:"classTitle" binding:"required"`
			StartTime  time.Time `json:"startTime" binding:"required"`
			EndTime    time.Time `json:"endTime" binding:"required"`
			AllowedIP  string    `json:"allowedIP" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Missing fields"})
			return
		}

		tok, err := d.tokens.Issue(req.ClassTitle, req.AllowedIP, req.StartTime, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}

		// Register the class session so marks against it are accepted.
		if err := d.lecturer.EnsureClass(c.Request.Context(), req.ClassTitle); err != nil {
			log.Printf("ensure class failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			return
		}

		link := d.cfg.PublicBaseURL + "/verify?token=" + url.QueryEscape(tok)
		c.JSON(http.StatusOK, gin.H{"link": link})
	})

	r.POST("/register", func(c *gin.Context) {
		var req struct {
			Name          string         `json:"name" binding:"required"`
			MatricNo      string         `json:"matricNo" binding:"required"`
			Email         string         `json:"email" binding:"required"`
			FaceEmbedding face.Embedding `json:"faceEmbedding" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Missing required fields"})
			return
		}

		err := d.enroll.Register(c.Request.Context(), req.Name, req.MatricNo, req.Email, req.FaceEmbedding)
		switch {
		case err == nil:
		case errors.Is(err, enroll.ErrMissingFields):
			metrics.Registrations.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"message": "Missing required fields"})
			return
		case errors.Is(err, face.ErrBadLength), errors.Is(err, face.ErrNotFinite):
			metrics.Registrations.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid face embedding format"})
			return
		case errors.Is(err, enroll.ErrDuplicateFace):
			metrics.Registrations.WithLabelValues("duplicate_face").Inc()
			c.JSON(http.StatusConflict, gin.H{"message": "Face already registered."})
			return
		case errors.Is(err, enroll.ErrDuplicateMatric):
			metrics.Registrations.WithLabelValues("duplicate_matric").Inc()
			c.JSON(http.StatusConflict, gin.H{"message": "Matric number already registered."})
			return
		default:
			log.Printf("registration error: %v", err)
			metrics.Registrations.WithLabelValues("error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			return
		}

		metrics.Registrations.WithLabelValues("ok").Inc()
		publishEvent(c.Request.Context(), d.events, queue.Event{
			Kind:     "registered",
			MatricNo: req.MatricNo,
		})
		c.JSON(http.StatusOK, gin.H{"message": "Registration successful!"})
	})

	r.POST("/verify-face", func(c *gin.Context) {
		var req struct {
			Token         string         `json:"token" binding:"required"`
			FaceEmbedding face.Embedding `json:"faceEmbedding" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Missing token or face data"})
			return
		}

		ident, _, err := d.verifier.VerifyFace(c.Request.Context(), req.Token, req.FaceEmbedding, requestOrigin(c))
		switch {
		case err == nil:
		case errors.Is(err, face.ErrBadLength), errors.Is(err, face.ErrNotFinite):
			metrics.Verifications.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid face embedding format"})
			return
		case errors.Is(err, token.ErrInvalidToken):
			metrics.Verifications.WithLabelValues("bad_token").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		case errors.Is(err, attendance.ErrWrongNetwork), errors.Is(err, attendance.ErrOutsideWindow):
			metrics.Verifications.WithLabelValues("out_of_scope").Inc()
			c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
			return
		case errors.Is(err, attendance.ErrNoMatch):
			metrics.Verifications.WithLabelValues("no_match").Inc()
			c.JSON(http.StatusNotFound, gin.H{"message": "Face not recognized"})
			return
		default:
			log.Printf("verification error: %v", err)
			metrics.Verifications.WithLabelValues("error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			return
		}

		metrics.Verifications.WithLabelValues("ok").Inc()
		c.JSON(http.StatusOK, gin.H{"student": ident, "classToken": req.Token})
	})

	r.POST("/mark-attendance", func(c *gin.Context) {
		var req struct {
			MatricNo   string `json:"matricNo" binding:"required"`
			ClassToken string `json:"classToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Missing matricNo or classToken"})
			return
		}

		res, err := d.marker.Mark(c.Request.Context(), req.MatricNo, req.ClassToken)
		switch {
		case err == nil:
		case errors.Is(err, token.ErrInvalidToken):
			metrics.Marks.WithLabelValues("bad_token").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		case errors.Is(err, roster.ErrStudentNotFound):
			metrics.Marks.WithLabelValues("student_not_found").Inc()
			c.JSON(http.StatusNotFound, gin.H{"message": "Student not found in lecturer roster"})
			return
		case errors.Is(err, roster.ErrClassNotFound):
			metrics.Marks.WithLabelValues("class_not_found").Inc()
			c.JSON(http.StatusNotFound, gin.H{"message": "Class session not found"})
			return
		default:
			log.Printf("mark attendance error: %v", err)
			metrics.Marks.WithLabelValues("error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			return
		}

		if res.Already {
			metrics.Marks.WithLabelValues("already").Inc()
			c.JSON(http.StatusOK, gin.H{"alreadyMarked": true})
			return
		}

		metrics.Marks.WithLabelValues("ok").Inc()
		publishEvent(c.Request.Context(), d.events, queue.Event{
			Kind:       "marked",
			MatricNo:   req.MatricNo,
			ClassTitle: res.ClassTitle,
		})
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// Serves the capture page behind the same scope checks as /verify-face,
	// so a dead link fails before the camera ever opens.
	r.GET("/verify", func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Missing token"})
			return
		}
		claims, err := d.tokens.Validate(tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}
		if err := attendance.CheckScope(claims, requestOrigin(c), time.Now()); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
			return
		}
		c.File("web/verify.html")
	})

	r.StaticFile("/", "web/index.html")

	return r
}

func publishEvent(ctx context.Context, q queue.Queue, evt queue.Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if err := q.Publish(ctx, evt); err != nil {
		log.Printf("event publish failed: %v", err)
	}
}

// requestOrigin resolves the client network address the way the token scope
// expects it: the forwarded header when present, the socket peer otherwise.
// Normalization of the value happens in the attendance package.
func requestOrigin(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return c.ClientIP()
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
