package api

import (
	"net/http"

	"PPMall/tools/errs"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListDeadLetters(c *gin.Context) error {
	limit, err := queryInt64(c, "limit", 100)
	if err != nil {
		return err
	}
	items, err := s.Dead.List(c.Request.Context(), limit)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
	return nil
}

// ReplayDeadLetter 放回 delta 流，由 worker 按 op_id 幂等重放
func (s *Server) ReplayDeadLetter(c *gin.Context) error {
	if err := s.Dead.Replay(c.Request.Context(), c.Param("id")); err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
	return nil
}

func (s *Server) DropDeadLetter(c *gin.Context) error {
	if err := s.Dead.Drop(c.Request.Context(), c.Param("id")); err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
	return nil
}

func (s *Server) GetStock(c *gin.Context) error {
	sku, err := paramInt64(c, "sku")
	if err != nil {
		return err
	}
	v, err := s.Stock.Get(c.Request.Context(), sku)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, v)
	return nil
}

type seedReq struct {
	Units *int64 `json:"units"`
}

// SeedStock body 为空时从账本回填计数器
func (s *Server) SeedStock(c *gin.Context) error {
	sku, err := paramInt64(c, "sku")
	if err != nil {
		return err
	}
	var req seedReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			return errs.ErrArgs.WrapMsg("bad body", "err", err)
		}
	}
	n, err := s.Stock.Seed(c.Request.Context(), sku, req.Units)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"sku_id": sku, "units": n})
	return nil
}
