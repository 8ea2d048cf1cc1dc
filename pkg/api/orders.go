package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/stores"
)

// orderService is the surface both order services share.
type orderService[T any] interface {
	Create(ctx context.Context, raw []byte) (T, error)
	Get(ctx context.Context, id int64) (T, error)
	List(ctx context.Context, filter stores.ListFilter) ([]T, error)
	Update(ctx context.Context, id int64, raw []byte) (T, error)
	Delete(ctx context.Context, id int64) error
	Approve(ctx context.Context, id int64) (T, error)
	Reject(ctx context.Context, id int64) (T, error)
	Execute(ctx context.Context, id int64) (T, error)
	Log(ctx context.Context, id int64) (*engine.LogView, error)
	Status(ctx context.Context, id int64) (*engine.StatusView, error)
	Audit(ctx context.Context, id int64, limit, offset int) ([]*stores.AuditEntry, error)
}

// orderHandlers serves the CRUD and lifecycle routes of one order kind.
type orderHandlers[T any] struct {
	s   *Server
	svc orderService[T]
}

func registerOrderRoutes[T any](s *Server, g *gin.RouterGroup, svc orderService[T]) {
	h := orderHandlers[T]{s: s, svc: svc}

	g.POST("", h.create)
	g.POST("/", h.create)
	g.GET("", h.list)
	g.GET("/", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)

	g.POST("/:id/approve", h.lifecycle(svc.Approve))
	g.POST("/:id/reject", h.lifecycle(svc.Reject))
	g.POST("/:id/execute", h.lifecycle(svc.Execute))

	g.GET("/:id/log", h.log)
	g.GET("/:id/status", h.status)
	g.GET("/:id/audit", h.audit)
}

func (h orderHandlers[T]) create(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		h.s.writeError(c, badRequest("failed to read request body", err))
		return
	}
	out, err := h.svc.Create(c.Request.Context(), raw)
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h orderHandlers[T]) list(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		h.s.writeError(c, err)
		return
	}

	out, err := h.svc.List(c.Request.Context(), stores.ListFilter{
		Status: stores.Status(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	if out == nil {
		out = []T{}
	}
	c.JSON(http.StatusOK, out)
}

func (h orderHandlers[T]) get(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	out, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h orderHandlers[T]) update(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		h.s.writeError(c, badRequest("failed to read request body", err))
		return
	}
	out, err := h.svc.Update(c.Request.Context(), id, raw)
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h orderHandlers[T]) delete(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// lifecycle adapts approve, reject and execute, which share a shape.
func (h orderHandlers[T]) lifecycle(action func(context.Context, int64) (T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.id(c)
		if !ok {
			return
		}
		out, err := action(c.Request.Context(), id)
		if err != nil {
			h.s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h orderHandlers[T]) log(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	out, err := h.svc.Log(c.Request.Context(), id)
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h orderHandlers[T]) status(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	out, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h orderHandlers[T]) audit(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	if limit < 0 || offset < 0 {
		msg := "limit and offset must not be negative"
		h.s.writeError(c, badRequest(msg, nil).WithDetail("errors", []string{msg}))
		return
	}
	if limit == 0 {
		limit = stores.DefaultListLimit
	}

	out, err := h.svc.Audit(c.Request.Context(), id, limit, offset)
	if err != nil {
		h.s.writeError(c, err)
		return
	}
	if out == nil {
		out = []*stores.AuditEntry{}
	}
	c.JSON(http.StatusOK, out)
}

func (h orderHandlers[T]) id(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.s.writeError(c, badRequest("invalid id: "+raw, err).WithDetail("errors", []string{"id must be a positive integer"}))
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter. Missing means zero.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		msg := name + " must be an integer"
		return 0, badRequest(msg, err).WithDetail("errors", []string{msg})
	}
	return n, nil
}
