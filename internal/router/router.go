package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codehive-io/codehive/internal/config"
	"github.com/codehive-io/codehive/internal/middleware"
	"github.com/codehive-io/codehive/internal/modules/handler"
	"github.com/codehive-io/codehive/internal/modules/serializer"
)

type RouterDeps struct {
	Config    *config.Config
	Log       *zap.Logger
	WSHandler *handler.WSHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ZapLogger(d.Log))

	// welcome
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, serializer.Response{Msg: "Welcome to the " + d.Config.App.Name + " backend service"})
	})

	// health
	r.GET("/keep-alive", func(c *gin.Context) {
		c.JSON(http.StatusOK, serializer.Response{Msg: "ok", Data: gin.H{"status": "ok"}})
	})

	// event channel
	r.GET("/ws", d.WSHandler.Attach)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, serializer.Err(http.StatusNotFound, "route not found", nil))
	})

	return r
}
