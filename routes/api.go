package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"document-qa-platform/internal/config"
	"document-qa-platform/models"
	"document-qa-platform/services"
	"document-qa-platform/utils"
)

// SetupAPIRoutes registers the document QA endpoints.
func SetupAPIRoutes(router *gin.Engine, pipeline *services.Pipeline, cfg *config.Config) {
	api := router.Group("/api")
	{
		api.POST("/upload", uploadHandler(pipeline, cfg))
		api.POST("/query", queryHandler(pipeline))
		api.POST("/clear", clearHandler(pipeline))
		api.GET("/stats", statsHandler(pipeline, cfg))
		api.GET("/health", healthHandler(pipeline))
	}
}

// uploadHandler accepts one or more files under the multipart field "files"
// and ingests them. Per-file failures are reported in the response body, not
// as an HTTP error; the request fails only when nothing could be accepted.
func uploadHandler(pipeline *services.Pipeline, cfg *config.Config) gin.HandlerFunc {
	parser := services.NewDocumentParser()

	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid multipart form", err.Error())
			return
		}

		fileHeaders := form.File["files"]
		if len(fileHeaders) == 0 {
			utils.RespondWithBadRequest(c, "No files provided. Use the 'files' form field.", nil)
			return
		}

		started := time.Now()
		var files []models.UploadFile
		report := &models.IngestReport{}

		for _, fh := range fileHeaders {
			name := models.NormalizeFilename(fh.Filename)

			if !parser.SupportedExtension(name) {
				report.PerFile = append(report.PerFile, models.IngestFileResult{
					Filename: name,
					Error:    fmt.Sprintf("unsupported file format: %s", name),
				})
				continue
			}
			if fh.Size > cfg.MaxFileSize {
				report.PerFile = append(report.PerFile, models.IngestFileResult{
					Filename: name,
					Error:    fmt.Sprintf("file exceeds the %d byte limit", cfg.MaxFileSize),
				})
				continue
			}

			f, err := fh.Open()
			if err != nil {
				report.PerFile = append(report.PerFile, models.IngestFileResult{
					Filename: name, Error: err.Error(),
				})
				continue
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				report.PerFile = append(report.PerFile, models.IngestFileResult{
					Filename: name, Error: err.Error(),
				})
				continue
			}

			files = append(files, models.UploadFile{Name: name, Data: data})
		}

		emailAlerts := true
		if v, ok := c.GetPostForm("enable_email_alerts"); ok {
			emailAlerts = v == "true" || v == "1"
		}

		ingested := pipeline.Ingest(c.Request.Context(), files, emailAlerts)
		report.PerFile = append(report.PerFile, ingested.PerFile...)
		report.ContactsNotified = ingested.ContactsNotified

		status := http.StatusOK
		if len(report.Failed()) == len(report.PerFile) {
			status = http.StatusUnprocessableEntity
		}

		c.JSON(status, gin.H{
			"report":        report,
			"processing_ms": time.Since(started).Milliseconds(),
		})
	}
}

func queryHandler(pipeline *services.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid query payload", err.Error())
			return
		}

		resp, err := pipeline.Query(c.Request.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidQuery):
				utils.RespondWithBadRequest(c, "Query must not be empty", nil)
			case errors.Is(err, services.ErrGeneration):
				utils.RespondWithError(c, http.StatusBadGateway, "generation_failed",
					"Answer generation is currently unavailable.", err.Error())
			default:
				utils.RespondWithInternalError(c, "Query processing failed", err.Error())
			}
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func clearHandler(pipeline *services.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := pipeline.Clear(c.Request.Context()); err != nil {
			utils.RespondWithInternalError(c, "Failed to clear the collection", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}

func statsHandler(pipeline *services.Pipeline, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := pipeline.Stats()
		c.JSON(http.StatusOK, gin.H{
			"collection":       stats.CollectionName,
			"record_count":     stats.RecordCount,
			"distinct_files":   stats.DistinctFiles,
			"max_chunk_size":   cfg.MaxChunkSize,
			"chunk_overlap":    cfg.ChunkOverlap,
			"default_search_k": cfg.DefaultSearchK,
			"min_confidence":   cfg.MinConfidence,
			"similarity":       cfg.Similarity,
		})
	}
}

func healthHandler(pipeline *services.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"record_count": pipeline.Stats().RecordCount,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}
