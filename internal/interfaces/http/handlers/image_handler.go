package handlers

import (
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// ImageHandler serves persisted inline-image bytes back to clients under
// /images/<filename> (spec §6 static images).
type ImageHandler struct {
	dir string
}

// NewImageHandler constructs an ImageHandler rooted at dir.
func NewImageHandler(dir string) *ImageHandler {
	return &ImageHandler{dir: dir}
}

// ServeImage handles GET /images/:filename.
func (h *ImageHandler) ServeImage(c *gin.Context) {
	name := filepath.Base(c.Param("filename"))
	c.File(filepath.Join(h.dir, name))
}
