package item

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/abduss/imgstore/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// multipartOverhead bounds the request body beyond the file itself.
	multipartOverhead = 64 << 10
	maxFieldSize      = 1 << 10
)

// RegisterRoutes mounts the authenticated item endpoints.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/images/uploads", handler.upload)
	group.GET("/images", handler.listAll)
	group.GET("/images/deleted", handler.listDeleted)
	group.GET("/images/:bucket", handler.listBucket)
	group.PUT("/images/restore/:itemID", handler.restore)
	group.DELETE("/images/destroy/:itemID", handler.purge)
	group.DELETE("/images/:bucketID/:itemID", handler.softDelete)
}

// RegisterPublicRoutes mounts the unauthenticated download link. Item URLs
// point here.
func RegisterPublicRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.GET("/images/:bucket/:filename", handler.download)
}

type httpHandler struct {
	service *Service
}

// upload reads the multipart body as a stream. The "bucket" field must come
// before the "file" part so the bucket can be checked before any file bytes
// are accepted.
func (h *httpHandler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.service.MaxBytes()+multipartOverhead)

	reader, err := c.Request.MultipartReader()
	if err != nil {
		apperr.Respond(c, apperr.Validation("multipart/form-data body is required"), "")
		return
	}

	var bucketName string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			if bucketName == "" {
				apperr.Respond(c, ErrBucketRequired, "")
				return
			}
			apperr.Respond(c, ErrFileRequired, "")
			return
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apperr.Respond(c, ErrItemTooLarge, "")
				return
			}
			apperr.Respond(c, apperr.Validation("malformed multipart body"), "")
			return
		}

		switch part.FormName() {
		case "bucket":
			value, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			part.Close()
			if err != nil {
				apperr.Respond(c, apperr.Validation("malformed bucket field"), "")
				return
			}
			bucketName = strings.TrimSpace(string(value))
		case "file":
			defer part.Close()
			if bucketName == "" {
				apperr.Respond(c, ErrBucketRequired, "")
				return
			}
			item, err := h.service.Upload(c.Request.Context(), UploadInput{
				BucketName:  bucketName,
				Filename:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Size:        declaredSize(part.Header.Get("Content-Length")),
				Body:        part,
			})
			if err != nil {
				apperr.Respond(c, err, "failed to upload file")
				return
			}
			c.JSON(http.StatusCreated, item)
			return
		default:
			part.Close()
		}
	}
}

func (h *httpHandler) listAll(c *gin.Context) {
	list, err := h.service.ListAll(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err, "failed to list images")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) listDeleted(c *gin.Context) {
	list, err := h.service.ListDeleted(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err, "failed to list deleted images")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) listBucket(c *gin.Context) {
	list, err := h.service.ListByBucket(c.Request.Context(), c.Param("bucket"))
	if err != nil {
		apperr.Respond(c, err, "failed to list images")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) download(c *gin.Context) {
	item, reader, size, err := h.service.Open(c.Request.Context(), c.Param("bucket"), c.Param("filename"))
	if err != nil {
		apperr.Respond(c, err, "failed to read image")
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, size, item.ContentType, reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", item.Name),
	})
}

func (h *httpHandler) softDelete(c *gin.Context) {
	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		apperr.Respond(c, ErrBucketNotFound, "")
		return
	}
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}

	item, err := h.service.SoftDelete(c.Request.Context(), bucketID, itemID)
	if err != nil {
		apperr.Respond(c, err, "failed to delete image")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *httpHandler) restore(c *gin.Context) {
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}

	item, err := h.service.Restore(c.Request.Context(), itemID)
	if err != nil {
		apperr.Respond(c, err, "failed to restore image")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *httpHandler) purge(c *gin.Context) {
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}

	if err := h.service.Purge(c.Request.Context(), itemID); err != nil {
		apperr.Respond(c, err, "failed to destroy image")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "image permanently deleted"})
}

func parseItemID(c *gin.Context) (uuid.UUID, bool) {
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		apperr.Respond(c, ErrItemNotFound, "")
		return uuid.Nil, false
	}
	return itemID, true
}

// declaredSize parses a part's Content-Length, returning -1 when absent.
func declaredSize(v string) int64 {
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
