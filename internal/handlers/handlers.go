package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/faceeval/internal/auth"
	"github.com/example/faceeval/internal/imageprocessor"
	"github.com/example/faceeval/internal/matcher"
	"github.com/example/faceeval/internal/metrics"
	"github.com/example/faceeval/internal/usecase"
)

// MaxUploadSize is the largest query image accepted by /verify.
const MaxUploadSize = imageprocessor.MaxUploadSize

// multipartOverhead leaves room for form fields and part headers.
const multipartOverhead = 1 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. Every route but
// /health sits behind authMiddleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.EvaluationUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.POST("/verify", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

		identity := c.PostForm("identity")
		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		contentType := file.Header.Get("Content-Type")
		if err := imageprocessor.CheckMediaType(contentType); err != nil {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported media type"})
			return
		}
		if identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		upload, err := imageprocessor.Read(src, file.Filename, contentType)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		result, err := uc.VerifyUser(c.Request.Context(), identity, upload.Image())
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	protected.POST("/evaluations", func(c *gin.Context) {
		var req usecase.RunRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		req.Operator, _ = auth.Operator(c.Request.Context())

		report, err := uc.Run(c.Request.Context(), req)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"run_id":     report.RunID,
			"operator":   report.Operator,
			"created_at": report.CreatedAt,
			"summary":    report.Summary,
		})
	})

	protected.GET("/evaluations", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		runs, err := uc.ListRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	protected.GET("/evaluations/:id", func(c *gin.Context) {
		report, err := uc.GetReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	protected.GET("/evaluations/:id/roc", func(c *gin.Context) {
		report, err := uc.GetReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": "report not found"})
			return
		}
		roc := report.Summary.ROC
		c.JSON(http.StatusOK, gin.H{
			"run_id":        report.RunID,
			"fpr":           roc.FPR,
			"tpr":           roc.TPR,
			"thresholds":    roc.Thresholds,
			"auc":           report.Summary.AUC,
			"eer":           report.Summary.EER,
			"eer_threshold": report.Summary.EERThreshold,
		})
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, imageprocessor.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, imageprocessor.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, matcher.ErrUndecodable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, usecase.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidRequest), errors.Is(err, fs.ErrNotExist):
		return http.StatusBadRequest
	case errors.Is(err, metrics.ErrEmptyPopulation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, matcher.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
