package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ollamabenchmark/internal/logging"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns default CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "accept", "origin", "Cache-Control", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}
}

// LoadCORSConfig reads CORS_ORIGIN (or CORS_ALLOW_ORIGINS) and
// CORS_ALLOW_METHODS as comma separated lists
func LoadCORSConfig(getenv func(string) string, logger *logging.Logger) CORSConfig {
	config := DefaultCORSConfig()

	if origins := getenv("CORS_ORIGIN"); origins != "" {
		config.AllowOrigins = splitList(origins)
	} else if origins := getenv("CORS_ALLOW_ORIGINS"); origins != "" {
		config.AllowOrigins = splitList(origins)
	}
	if methods := getenv("CORS_ALLOW_METHODS"); methods != "" {
		config.AllowMethods = splitList(methods)
	}

	if getenv("GIN_MODE") == "release" && len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
		logger.Warn("CORS is set to allow all origins in production mode. Consider setting CORS_ORIGIN environment variable.")
	}
	return config
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// CORSMiddleware adds CORS headers to allow frontend access
func CORSMiddleware(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowedOrigin := range config.AllowOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
		c.Writer.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", config.MaxAge))
		if config.AllowCredentials {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		// Handle preflight requests
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs one line per request at a level matching the
// response status
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := map[string]interface{}{
			"status":   c.Writer.Status(),
			"duration": time.Since(startTime).String(),
			"ip":       c.ClientIP(),
		}
		if query != "" {
			fields["query"] = query
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.ErrorWithFields("%s %s", fields, c.Request.Method, path)
		case status >= 400:
			logger.WarnWithFields("%s %s", fields, c.Request.Method, path)
		default:
			logger.InfoWithFields("%s %s", fields, c.Request.Method, path)
		}
	}
}

// ErrorHandlingMiddleware formats errors attached by handlers as JSON
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()

			statusCode := c.Writer.Status()
			if statusCode == http.StatusOK {
				statusCode = http.StatusInternalServerError
			}

			c.JSON(statusCode, ErrorResponse{
				Error:   http.StatusText(statusCode),
				Message: err.Error(),
				Code:    statusCode,
			})
		}
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error
func RecoveryMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorWithFields("PANIC RECOVERED", map[string]interface{}{
					"error": err,
					"stack": string(debug.Stack()),
				})

				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred. Please try again later.",
					Code:    http.StatusInternalServerError,
				})
			}
		}()

		c.Next()
	}
}

// RequestValidationMiddleware requires a JSON body on API writes that carry one
func RequestValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut || c.Request.Method == http.MethodPatch {
			if c.Request.ContentLength != 0 && !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, ErrorResponse{
					Error:   "Unsupported Media Type",
					Message: "Content-Type must be application/json",
					Code:    http.StatusUnsupportedMediaType,
				})
				return
			}
		}

		c.Next()
	}
}

// SecurityHeadersMiddleware adds security-related HTTP headers
func SecurityHeadersMiddleware(release bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if release {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
