package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxPerPage = 100

// GetPaginationParams reads page and per_page, falling back to 1 and 10.
func GetPaginationParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPerPage {
		pageSize = 10
	}

	return page, pageSize
}
