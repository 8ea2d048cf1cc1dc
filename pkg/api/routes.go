package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openfroyo/workorders/pkg/inventory"
	"github.com/openfroyo/workorders/pkg/segments"
	"github.com/openfroyo/workorders/pkg/stores"
)

// inventoryRoutes maps URL segments onto catalog sections.
var inventoryRoutes = map[string]string{
	"resource-pools": inventory.ResourcePools,
	"ip-pools":       inventory.IPPools,
	"folders":        inventory.Folders,
	"datacenters":    inventory.Datacenters,
}

func (s *Server) workOrderRoutes(g *gin.RouterGroup) {
	for path, section := range inventoryRoutes {
		g.GET("/"+path, s.inventory(section))
	}
	g.GET("/:id/review", s.review)
	registerOrderRoutes[*stores.WorkOrder](s, g, s.deps.WorkOrders)
}

func (s *Server) networkOrderRoutes(g *gin.RouterGroup) {
	g.POST("/validate", s.validateSegment)
	registerOrderRoutes[*stores.NetworkOrder](s, g, s.deps.NetworkOrders)
}

func (s *Server) inventory(section string) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := s.deps.Catalog.List(section)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func (s *Server) review(c *gin.Context) {
	h := orderHandlers[*stores.WorkOrder]{s: s, svc: s.deps.WorkOrders}
	id, ok := h.id(c)
	if !ok {
		return
	}
	out, err := s.deps.WorkOrders.Review(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// validateSegment runs the segment checks on a body without storing it.
func (s *Server) validateSegment(c *gin.Context) {
	var cfg segments.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		s.writeError(c, badRequest("request body is not a valid segment definition", err).
			WithDetail("errors", []string{err.Error()}))
		return
	}
	c.JSON(http.StatusOK, s.deps.NetworkOrders.ValidateSegment(cfg))
}
