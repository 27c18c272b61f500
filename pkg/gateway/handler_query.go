package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sportswire/sportswire/pkg/models"
)

// submitQueryHandler handles POST /query.
// Records the request in the Gateway stage and enqueues it; the answer is
// retrieved later via GET /query/:id.
func (s *Server) submitQueryHandler(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.queries.SubmitQuery(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	s.logger.Info("Query accepted", "request_id", resp.RequestID)
	c.JSON(http.StatusOK, resp)
}

// queryStatusHandler handles GET /query/:id.
func (s *Server) queryStatusHandler(c *gin.Context) {
	record, err := s.queries.GetQueryStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
