package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *DiagServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.startedAt).String(),
			"service": "harplink",
			"version": "0.0.1",
		})
	})

	guarded := s.router.Group("/", s.requireToken())
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	guarded.GET("/status", func(c *gin.Context) {
		body := gin.H{
			"state":       s.status.State(),
			"unsolicited": s.status.UnsolicitedCount(),
		}
		if addr, ok := s.status.ClientAddress(); ok {
			body["client_addr"] = addr.String()
		}
		objects := s.status.DiscoveredObjects()
		strs := make([]string, 0, len(objects))
		for _, obj := range objects {
			strs = append(strs, obj.String())
		}
		body["objects"] = strs
		c.JSON(http.StatusOK, body)
	})
}

func (s *DiagServer) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if err := s.validator.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
