package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aria-agents/aria/pkg/models"
)

func (s *Server) handleListAgents(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"
	agents, err := s.agents.List(c.Request.Context(), enabledOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	agent, err := s.agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var a models.Agent
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	created, err := s.agents.Create(c.Request.Context(), a)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateAgent(c *gin.Context) {
	var a models.Agent
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	a.ID = c.Param("id")
	updated, err := s.agents.Update(c.Request.Context(), a)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(c *gin.Context) {
	if err := s.agents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSyncAgents(c *gin.Context) {
	force := c.Query("force") == "true"
	result, err := s.syncer.SyncAgents(c.Request.Context(), force)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListModels(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"
	mods, err := s.mods.List(c.Request.Context(), enabledOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": mods})
}

func (s *Server) handleGetModel(c *gin.Context) {
	m, err := s.mods.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleCreateModel(c *gin.Context) {
	var m models.Model
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err)
		return
	}
	created, err := s.mods.Create(c.Request.Context(), m)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateModel(c *gin.Context) {
	var m models.Model
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err)
		return
	}
	m.ID = c.Param("id")
	updated, err := s.mods.Update(c.Request.Context(), m)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteModel(c *gin.Context) {
	if err := s.mods.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSyncModels(c *gin.Context) {
	force := c.Query("force") == "true"
	result, err := s.syncer.SyncModels(c.Request.Context(), force)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleAvailableModels lists only enabled models, the set a UI can offer.
func (s *Server) handleAvailableModels(c *gin.Context) {
	mods, err := s.mods.List(c.Request.Context(), true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": mods})
}
