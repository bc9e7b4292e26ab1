package bucket

import (
	"net/http"

	"github.com/abduss/imgstore/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts bucket endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/buckets", handler.createBucket)
	group.GET("/buckets", handler.listBuckets)
	group.PUT("/buckets/:bucketID", handler.renameBucket)
	group.DELETE("/buckets/:bucketID", handler.deleteBucket)
}

type httpHandler struct {
	service *Service
}

type bucketNameRequest struct {
	BucketName string `json:"bucketName"`
}

func (h *httpHandler) createBucket(c *gin.Context) {
	var req bucketNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("invalid request body"), "")
		return
	}

	bucket, err := h.service.Create(c.Request.Context(), req.BucketName)
	if err != nil {
		apperr.Respond(c, err, "failed to create bucket")
		return
	}

	c.JSON(http.StatusCreated, bucket)
}

func (h *httpHandler) listBuckets(c *gin.Context) {
	buckets, err := h.service.List(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err, "failed to list buckets")
		return
	}

	c.JSON(http.StatusOK, buckets)
}

func (h *httpHandler) renameBucket(c *gin.Context) {
	bucketID, ok := parseBucketID(c)
	if !ok {
		return
	}

	var req bucketNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("invalid request body"), "")
		return
	}

	bucket, err := h.service.Rename(c.Request.Context(), bucketID, req.BucketName)
	if err != nil {
		apperr.Respond(c, err, "failed to rename bucket")
		return
	}

	c.JSON(http.StatusOK, bucket)
}

func (h *httpHandler) deleteBucket(c *gin.Context) {
	bucketID, ok := parseBucketID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), bucketID); err != nil {
		apperr.Respond(c, err, "failed to delete bucket")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "bucket deleted"})
}

// parseBucketID treats a malformed id like an unknown one.
func parseBucketID(c *gin.Context) (uuid.UUID, bool) {
	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		apperr.Respond(c, ErrBucketNotFound, "")
		return uuid.Nil, false
	}
	return bucketID, true
}
