package admin

import (
	"strconv"

	"github.com/roomgrid/billing-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "ID 无效")
		return 0, false
	}
	return uint(id), true
}
