package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aria-agents/aria/pkg/models"
)

func (s *Server) handleRoundtable(c *gin.Context) {
	var req models.DiscussRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	record, err := s.discussions.Discuss(c.Request.Context(), req)
	if err != nil && record == nil {
		writeError(c, err)
		return
	}
	// A partial record still ships; the status field says what went wrong.
	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleRoundtableAsync(c *gin.Context) {
	var req models.DiscussRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, err := s.discussions.DiscussAsync(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"tracking_key": key,
		"status":       models.RoundtableQueued,
	})
}

func (s *Server) handleRoundtableStatus(c *gin.Context) {
	status, err := s.discussions.Status(c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
