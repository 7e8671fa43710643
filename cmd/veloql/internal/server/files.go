package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/syssam/veloql/blob"
)

// file serves a stored file. The secret of the file URL must match the one
// recorded when the file was uploaded; a mismatch looks like a missing file.
func (s *Server) file(c *gin.Context) {
	blobs := s.Runtime().Blobs()
	if blobs == nil {
		c.Status(http.StatusNotFound)
		return
	}
	key, err := blob.CleanKey(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	info, rc, err := blobs.Get(c.Request.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("reading file failed", zap.String("key", key), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer rc.Close()
	secret := info.Metadata["secret"]
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(c.Query("secret"))) != 1 {
		c.Status(http.StatusNotFound)
		return
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{}
	if name := info.Metadata["filename"]; name != "" {
		headers["Content-Disposition"] = fmt.Sprintf("inline; filename=%q", name)
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, rc, headers)
}
