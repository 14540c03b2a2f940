package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/common"
)

// ListModels proxies the backend's /api/tags, served from the cache when warm.
// ?refresh=1 drops the cached list and asks the backend again.
func (h *Handler) ListModels(c *gin.Context) {
	ctx := c.Request.Context()
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	if h.Cache != nil && refresh {
		if err := h.Cache.InvalidateModelList(ctx); err != nil {
			log.Printf("[ListModels] cache invalidate failed err=%v", err)
		}
	}
	if h.Cache != nil && !refresh {
		raw, hit, err := h.Cache.GetModelList(ctx)
		if err != nil {
			log.Printf("[ListModels] cache read failed err=%v", err)
		} else if hit {
			c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
			return
		}
	}

	raw, err := h.Ollama.ListModels(ctx)
	if err != nil {
		status, msg := turnFailure(err)
		log.Printf("[ListModels] upstream failed status=%d err=%v", status, err)
		common.Fail(c, status, msg)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.SetModelList(ctx, raw, h.Cfg.ModelCacheTTL); err != nil {
			log.Printf("[ListModels] cache write failed err=%v", err)
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}
