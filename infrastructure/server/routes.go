package server

import "github.com/gin-gonic/gin"

// registerRoutes wires every endpoint.
//
// Batch endpoints:
//
//	POST   /v1/batches                      - Upload CSV or JSON-mode text
//	GET    /v1/batches/:key                 - Document and decisions
//	GET    /v1/batches/:key/rows/:id        - One row with labels and its result
//	PUT    /v1/batches/:key/results/:id     - Pick a winner
//	PATCH  /v1/batches/:key/results/:id     - Adjust confidence or reasoning
//	PUT    /v1/batches/:key/labels/:slot    - Rename a slot
//	PUT    /v1/batches/:key/feedback/:id    - Approve or reject a suggestion
//	DELETE /v1/batches/:key/decisions       - Drop every decision
//	GET    /v1/batches/:key/stats           - Win rates and confidence
//	GET    /v1/batches/:key/export          - Export document
//
// Tools:
//
//	POST /v1/diff - Line diff of two texts
//
// Health:
//
//	GET /healthz
//	GET /metrics (when a metrics handler is set)
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		s.router.GET(s.cfg.MetricsPath, gin.WrapH(s.metricsHandler))
	}

	v1 := s.router.Group("/v1")
	v1.POST("/diff", s.handleDiff)

	batches := v1.Group("/batches")
	batches.POST("", s.handleUpload)

	batch := batches.Group("/:key", s.loadSession)
	batch.GET("", s.handleGetBatch)
	batch.GET("/rows/:id", s.handleGetRow)
	batch.PUT("/results/:id", s.handlePickWinner)
	batch.PATCH("/results/:id", s.handleAdjustResult)
	batch.PUT("/labels/:slot", s.handleRenameSlot)
	batch.PUT("/feedback/:id", s.handleFeedback)
	batch.DELETE("/decisions", s.handleReset)
	batch.GET("/stats", s.handleStats)
	batch.GET("/export", s.handleExport)
}
