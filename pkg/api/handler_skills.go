package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleSkillDashboard(c *gin.Context) {
	hours := intQuery(c, "hours", 24)
	health, err := s.ledger.Health(c.Request.Context(), hours)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window_hours": hours, "skills": health})
}

func (s *Server) handleSkillExpert(c *gin.Context) {
	taskType := c.Query("task_type")
	var candidates []string
	if raw := c.Query("candidates"); raw != "" {
		candidates = strings.Split(raw, ",")
	}
	scores, err := s.ledger.ExpertFor(c.Request.Context(), taskType, candidates)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": scores})
}
