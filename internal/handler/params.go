package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geotrust/pkg/response"
)

// int64Param parses a positive integer path parameter, writing a 400 on
// failure
func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		response.BadRequest(c, "Invalid "+name)
		return 0, false
	}
	return v, true
}
