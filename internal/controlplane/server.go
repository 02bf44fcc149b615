// Package controlplane 暴露一个很小的 HTTP 控制面：
// 状态查询和熔断/急停的人工复位。
package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/internal/orderbook"
	"github.com/changrenyuan/okx-auto/internal/risk"
	"github.com/changrenyuan/okx-auto/internal/storage"
	"github.com/changrenyuan/okx-auto/internal/strategies"
	"github.com/changrenyuan/okx-auto/pkg/logger"
)

// Deps 控制面依赖，由编排器注入
type Deps struct {
	Book     *orderbook.Book
	Breaker  *risk.CircuitBreaker
	Risk     *risk.Manager
	Registry *strategies.Registry
	Hot      *storage.HotStore
}

// Server 控制面 HTTP 服务
type Server struct {
	deps Deps
	http *http.Server
	log  *logrus.Entry
}

// NewServer 创建控制面
func NewServer(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		deps: deps,
		log:  logger.WithField("component", "controlplane"),
	}
	engine.GET("/status", s.handleStatus)
	engine.POST("/risk/reset", s.handleRiskReset)

	s.http = &http.Server{Addr: addr, Handler: engine}
	return s
}

// Start 后台启动监听
func (s *Server) Start() {
	go func() {
		s.log.WithField("addr", s.http.Addr).Info("控制面启动")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("控制面退出")
		}
	}()
}

// Shutdown 优雅停机
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{"time": time.Now()}

	if s.deps.Book != nil {
		book := gin.H{
			"inst_id":      s.deps.Book.InstID(),
			"consistent":   s.deps.Book.Consistent(),
			"update_count": s.deps.Book.UpdateCount(),
			"error_count":  s.deps.Book.ErrorCount(),
			"mid_price":    s.deps.Book.MidPrice(),
			"spread_bps":   s.deps.Book.SpreadBps(),
			"last_update":  s.deps.Book.LastUpdate(),
		}
		resp["orderbook"] = book
	}
	if s.deps.Breaker != nil {
		resp["circuit_breaker"] = s.deps.Breaker.Status()
	}
	if s.deps.Risk != nil {
		trades, wins := s.deps.Risk.TradeStats()
		resp["risk"] = gin.H{
			"emergency_stop": s.deps.Risk.IsStopped(),
			"trades":         trades,
			"wins":           wins,
		}
	}
	if s.deps.Registry != nil {
		stats := gin.H{}
		for _, st := range s.deps.Registry.All() {
			type withStats interface{ Stats() strategies.Stats }
			if ws, ok := st.(withStats); ok {
				stats[st.Name()] = ws.Stats()
			}
		}
		resp["strategies"] = stats
	}
	if s.deps.Hot != nil {
		resp["storage"] = s.deps.Hot.Stats()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRiskReset(c *gin.Context) {
	if s.deps.Breaker != nil {
		s.deps.Breaker.Reset()
	}
	if s.deps.Risk != nil {
		s.deps.Risk.ResetEmergencyStop()
	}
	s.log.Warn("风控状态经控制面人工复位")
	c.JSON(http.StatusOK, gin.H{"reset": true})
}
