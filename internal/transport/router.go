package transport

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the command surface and subscription endpoints onto a
// gin engine, mirroring the teacher's router.go layout (one route group
// per resource, a bare health endpoint).
func SetupRouter(api *API, ws *WSHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	nodes := r.Group("/nodes/:source")
	{
		nodes.POST("/queue", api.AddQueueItem)
		nodes.DELETE("/queue", api.RemoveQueueItem)
		nodes.POST("/queue/move", api.MoveQueueItem)
		nodes.POST("/queue/shuffle", api.ShuffleQueue)
		nodes.POST("/volume", api.SetVolume)
		nodes.POST("/progress", api.SetProgress)
		nodes.POST("/pause", api.Pause)
		nodes.POST("/unpause", api.Unpause)
		nodes.POST("/next", api.PlayNext)
		nodes.POST("/previous", api.PlayPrevious)
		nodes.POST("/selected", api.PlaySelected)
		nodes.GET("/subscribe", ws.SubscribeNode)
	}

	r.GET("/coordinator/subscribe", ws.SubscribeCoordinator)
	r.GET("/health", api.Health)

	r.GET("/library/audio", api.ListAudio)
	r.GET("/library/playlists", api.ListPlaylists)
	r.GET("/library/playlists/:uid/items", api.ListPlaylistItems)

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
