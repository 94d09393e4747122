package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/config"
	"classattend/internal/httpmiddleware"
	"classattend/internal/metrics"
	"classattend/internal/queue"
	"classattend/internal/report"
	"classattend/internal/session"
	"classattend/internal/store"
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

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(context.Background(), cfg.DatabaseURL)
	if err != nil {
		// Keep serving so health checks report the outage; every
		// /healthz probe retries the ping and pending migration.
		log.Printf("warning: db not ready: %v", err)
	}
	if db == nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	sessionRepo := session.NewRepository(db.Client)
	mgr := session.NewManager(sessionRepo)
	attRepo := attendance.NewRepository(db.Client)
	validator := attendance.NewService(attRepo, sessionRepo, cfg.CommitDelay)
	reports := report.New(db.Client)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Ready(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Token bootstrap. Credential verification lives outside this
	// service; whatever fronts it exchanges a verified identity for a
	// token pair here.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			PrincipalID int64  `json:"principal_id" binding:"required"`
			Role        string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.PrincipalID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	faculty := r.Group("/v1", auth.RequireRole(auth.RoleFaculty, cfg.JWTSigningKey, cfg.JWTIssuer))
	student := r.Group("/v1", auth.RequireRole(auth.RoleStudent, cfg.JWTSigningKey, cfg.JWTIssuer))

	faculty.POST("/sessions", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		var req struct {
			Subject      string   `json:"subject" binding:"required"`
			TTLMinutes   int      `json:"ttl_minutes"`
			Latitude     *float64 `json:"latitude"`
			Longitude    *float64 `json:"longitude"`
			Accuracy     *float64 `json:"accuracy"`
			RadiusMeters float64  `json:"radius_meters"`
			Division     string   `json:"division"`
			Description  string   `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ttl := cfg.SessionTTL
		if req.TTLMinutes > 0 {
			ttl = time.Duration(req.TTLMinutes) * time.Minute
		}
		var loc *session.Location
		if req.Latitude != nil && req.Longitude != nil {
			loc = &session.Location{Lat: *req.Latitude, Lon: *req.Longitude, Accuracy: req.Accuracy}
		}

		s, err := mgr.Start(c.Request.Context(), principal.ID, session.StartParams{
			Subject:      req.Subject,
			Location:     loc,
			TTL:          ttl,
			RadiusMeters: req.RadiusMeters,
			Division:     req.Division,
			Description:  req.Description,
		})
		if errors.Is(err, session.ErrActiveSessionExists) {
			// Return the live session so the client can resume it.
			existing, lookupErr := mgr.Active(c.Request.Context(), principal.ID)
			payload := gin.H{"error": "an active session already exists"}
			if lookupErr == nil && existing != nil {
				payload["otp"] = existing.OTP
				payload["subject"] = existing.Subject
				payload["session_code"] = existing.SessionCode
				payload["expires_at"] = existing.ExpiresAt
			}
			c.JSON(http.StatusConflict, payload)
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		metrics.SessionsCreated.Inc()
		c.JSON(http.StatusCreated, gin.H{
			"otp":          s.OTP,
			"session_code": s.SessionCode,
			"subject":      s.Subject,
			"expires_at":   s.ExpiresAt,
		})
	})

	faculty.GET("/sessions/active", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		s, err := mgr.Active(c.Request.Context(), principal.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		if s == nil {
			c.JSON(http.StatusOK, gin.H{"session": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": gin.H{
			"otp":          s.OTP,
			"subject":      s.Subject,
			"session_code": s.SessionCode,
			"expires_at":   s.ExpiresAt,
		}})
	})

	faculty.POST("/sessions/close", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		s, err := mgr.Active(c.Request.Context(), principal.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		if s == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		if err := mgr.Close(c.Request.Context(), s.ID); err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"closed": true, "session_code": s.SessionCode})
	})

	faculty.PUT("/sessions/location", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		var req struct {
			Latitude  *float64 `json:"latitude" binding:"required"`
			Longitude *float64 `json:"longitude" binding:"required"`
			Accuracy  *float64 `json:"accuracy"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := mgr.UpdateLocation(c.Request.Context(), principal.ID, session.Location{
			Lat: *req.Latitude, Lon: *req.Longitude, Accuracy: req.Accuracy,
		})
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": true})
	})

	student.POST("/attendance", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		var req struct {
			OTP       string   `json:"otp" binding:"required"`
			Subject   string   `json:"subject" binding:"required"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Accuracy  *float64 `json:"accuracy"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var loc *session.Location
		if req.Latitude != nil && req.Longitude != nil {
			loc = &session.Location{Lat: *req.Latitude, Lon: *req.Longitude, Accuracy: req.Accuracy}
		}

		rec, err := validator.Mark(c.Request.Context(), req.OTP, principal.ID, req.Subject, loc)
		if err != nil {
			if reason := rejectionReason(err); reason != "" {
				metrics.AttendanceRejected.WithLabelValues(reason).Inc()
			}
			writeDomainError(c, err)
			return
		}

		metrics.AttendanceAccepted.Inc()
		publishMarked(c.Request.Context(), q, rec)

		resp := gin.H{"status": rec.Status, "subject": rec.Subject, "marked_at": rec.MarkedAt}
		if rec.DistanceMeters != nil {
			resp["distance_m"] = *rec.DistanceMeters
		}
		c.JSON(http.StatusCreated, resp)
	})

	faculty.DELETE("/attendance", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		sessionID, err1 := strconv.ParseInt(c.Query("session_id"), 10, 64)
		studentID, err2 := strconv.ParseInt(c.Query("student_id"), 10, 64)
		if err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and student_id required"})
			return
		}
		if err := validator.Unmark(c.Request.Context(), principal.ID, sessionID, studentID); err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	})

	faculty.GET("/reports", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		filter := report.Filter{
			FacultyID: principal.ID,
			Subject:   c.Query("subject"),
			Division:  c.Query("division"),
			Status:    c.Query("status"),
		}
		if v := c.Query("date_from"); v != "" {
			if d, err := time.Parse("2006-01-02", v); err == nil {
				filter.DateFrom = d
			}
		}
		if v := c.Query("date_to"); v != "" {
			if d, err := time.Parse("2006-01-02", v); err == nil {
				filter.DateTo = d
			}
		}
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				filter.Limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				filter.Offset = parsed
			}
		}
		rows, err := reports.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(rows), "records": rows})
	})

	faculty.GET("/reports/stats", func(c *gin.Context) {
		principal, _ := auth.PrincipalFrom(c)
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -30)
		if v := c.Query("date_from"); v != "" {
			if d, err := time.Parse("2006-01-02", v); err == nil {
				start = d
			}
		}
		if v := c.Query("date_to"); v != "" {
			if d, err := time.Parse("2006-01-02", v); err == nil {
				end = d.AddDate(0, 0, 1)
			}
		}
		stats, err := reports.FacultyStats(c.Request.Context(), principal.ID, start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// writeDomainError maps domain errors onto HTTP statuses. Validator
// rejections are expected outcomes and carry their reason to the
// client; anything unrecognized is a 500.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidOTP),
		errors.Is(err, attendance.ErrSubjectMismatch),
		errors.Is(err, attendance.ErrLocationRequired),
		errors.Is(err, attendance.ErrAccuracyTooPoor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrOutOfRange):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrAlreadyMarked),
		errors.Is(err, session.ErrActiveSessionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrRecordNotFound),
		errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request canceled"})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, attendance.ErrInvalidOTP):
		return "invalid_otp"
	case errors.Is(err, attendance.ErrAlreadyMarked):
		return "duplicate"
	case errors.Is(err, attendance.ErrSubjectMismatch):
		return "subject_mismatch"
	case errors.Is(err, attendance.ErrLocationRequired):
		return "location_required"
	case errors.Is(err, attendance.ErrAccuracyTooPoor):
		return "accuracy"
	case errors.Is(err, attendance.ErrOutOfRange):
		return "out_of_range"
	default:
		return ""
	}
}

// publishMarked emits a fire-and-forget audit event; failures are
// logged and never affect the response.
func publishMarked(ctx context.Context, q queue.Queue, rec attendance.Record) {
	body, err := json.Marshal(map[string]any{
		"session_id": rec.SessionID,
		"student_id": rec.StudentID,
		"subject":    rec.Subject,
		"distance_m": rec.DistanceMeters,
		"marked_at":  rec.MarkedAt,
	})
	if err != nil {
		return
	}
	if err := q.Publish(ctx, queue.Message{Type: queue.TypeAttendanceMarked, Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
