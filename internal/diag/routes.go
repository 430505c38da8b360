package diag

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/jroosing/stubresolve/internal/diag/docs" // swagger docs
	"github.com/jroosing/stubresolve/internal/diag/handlers"
)

// RegisterRoutes wires the diagnostics endpoints and swagger UI onto r.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)
	api.GET("/listeners", h.Listeners)
}
