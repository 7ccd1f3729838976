package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"babylog/backend/internal/config"
	"babylog/backend/internal/metrics"
	"babylog/backend/internal/report"
)

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type App struct {
	cfg     config.Config
	db      *pgxpool.Pool
	loc     *time.Location
	metrics *metrics.Provider
	limiter *ipRateLimiter
	now     func() time.Time
}

type AuthUser struct {
	ID    string
	Email *string
	Name  string
}

// New wires the API. metricsProvider may be nil when metrics are disabled.
func New(cfg config.Config, db *pgxpool.Pool, metricsProvider *metrics.Provider) *App {
	return &App{
		cfg:     cfg,
		db:      db,
		loc:     cfg.Location(),
		metrics: metricsProvider,
		limiter: newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		now:     time.Now,
	}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())
	router.Use(a.metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	api := router.Group(a.cfg.APIPrefix)
	api.Use(a.limiter.Middleware())
	api.Use(a.authMiddleware())

	api.GET("/settings/me", a.getMySettings)
	api.PATCH("/settings/me", a.updateMySettings)

	api.GET("/children", a.listChildren)
	api.POST("/children", a.createChild)
	api.GET("/children/:child_id", a.getChild)
	api.PATCH("/children/:child_id", a.updateChild)

	for _, spec := range catalogSpecs() {
		api.GET("/"+spec.segment, a.listCatalog(spec))
		api.POST("/"+spec.segment, a.createCatalogItem(spec))
		api.PATCH("/"+spec.segment+"/:item_id", a.updateCatalogItem(spec))
	}

	child := api.Group("/children/:child_id")
	for _, spec := range recordSpecs() {
		child.GET("/"+spec.segment, a.listRecords(spec))
		child.POST("/"+spec.segment, a.createRecord(spec))
		child.PATCH("/"+spec.segment+"/:record_id", a.updateRecord(spec))
		child.DELETE("/"+spec.segment+"/:record_id", a.deleteRecord(spec))
	}
	child.POST("/sleep/toggle", a.toggleSleep)

	child.GET("/data/check", a.getCheck)
	child.GET("/data/summary/graph", a.getSummaryGraph)
	child.GET("/data/summary/list", a.getSummaryList)
	child.GET("/data/histogram", a.getHistogram)
	child.GET("/data/measurements", a.getGrowthData)
	child.GET("/data/percentiles/:m_type", a.getPercentileData)
	child.GET("/export.csv", a.exportChildDataCSV)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "babylog-api",
	})
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Invalid token payload")
			return
		}
		if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
			writeError(c, http.StatusUnauthorized, "Invalid token audience")
			return
		}
		if a.cfg.JWTIssuer != "" {
			issuer, _ := claims["iss"].(string)
			if issuer != a.cfg.JWTIssuer {
				writeError(c, http.StatusUnauthorized, "Invalid token issuer")
				return
			}
		}
		sub, _ := claims["sub"].(string)
		sub = strings.TrimSpace(sub)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}
		if _, err := uuid.Parse(sub); err != nil {
			writeError(c, http.StatusUnauthorized, "Token subject must be a UUID")
			return
		}

		user, err := a.getOrCreateUser(c.Request.Context(), sub, claims)
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set("authUser", user)
		c.Next()
	}
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func toOptionalString(raw any) *string {
	if s, ok := raw.(string); ok {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			return &trimmed
		}
	}
	return nil
}

func (a *App) getOrCreateUser(ctx context.Context, userID string, claims jwt.MapClaims) (AuthUser, error) {
	user := AuthUser{}
	err := a.db.QueryRow(
		ctx,
		`SELECT id::text, email, name FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Email, &user.Name)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, err
	}
	if !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("User not found")
	}

	email := toOptionalString(claims["email"])
	name := ""
	if rawName, ok := claims["name"].(string); ok {
		name = strings.TrimSpace(rawName)
	}
	if name == "" {
		name = fmt.Sprintf("user-%s", truncate(userID, 8))
	}

	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO users (id, email, name, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		userID,
		email,
		name,
	); err != nil {
		return AuthUser{}, err
	}

	return AuthUser{ID: userID, Email: email, Name: name}, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

type childRecord struct {
	ID        string
	Name      string
	Birthday  time.Time
	Gender    report.Gender
	CreatedBy string
}

// getChildWithAccess loads a child the user created or is a parent of.
func (a *App) getChildWithAccess(ctx context.Context, userID, childID string) (childRecord, int, error) {
	if _, err := uuid.Parse(strings.TrimSpace(childID)); err != nil {
		return childRecord{}, http.StatusNotFound, errors.New("Child not found")
	}

	record := childRecord{}
	var gender string
	var allowed bool
	err := a.db.QueryRow(
		ctx,
		`SELECT c.id::text, c.name, c.birthday, c.gender, c.created_by::text,
		        (c.created_by = $2 OR EXISTS (
		          SELECT 1 FROM child_parents p WHERE p.child_id = c.id AND p.user_id = $2
		        ))
		 FROM children c
		 WHERE c.id = $1`,
		strings.TrimSpace(childID),
		userID,
	).Scan(&record.ID, &record.Name, &record.Birthday, &gender, &record.CreatedBy, &allowed)
	if errors.Is(err, pgx.ErrNoRows) {
		return childRecord{}, http.StatusNotFound, errors.New("Child not found")
	}
	if err != nil {
		return childRecord{}, http.StatusInternalServerError, err
	}
	if !allowed {
		return childRecord{}, http.StatusForbidden, errors.New("Child access denied")
	}
	record.Gender = report.Gender(strings.TrimSpace(gender))
	return record, http.StatusOK, nil
}

// requireChild resolves the authenticated user and the :child_id path
// parameter, writing the error response itself when either fails.
func (a *App) requireChild(c *gin.Context) (AuthUser, childRecord, bool) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return AuthUser{}, childRecord{}, false
	}
	child, statusCode, err := a.getChildWithAccess(c.Request.Context(), user.ID, c.Param("child_id"))
	if err != nil {
		if statusCode == http.StatusInternalServerError {
			logError(c, "load child", err)
			writeError(c, statusCode, "Failed to load child")
			return AuthUser{}, childRecord{}, false
		}
		writeError(c, statusCode, err.Error())
		return AuthUser{}, childRecord{}, false
	}
	return user, child, true
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

func parseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(value), loc)
}
