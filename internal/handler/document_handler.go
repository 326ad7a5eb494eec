package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/service"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
	"github.com/noah-isme/referral-portal-api/pkg/response"
)

type documentService interface {
	Upload(ctx context.Context, reportID string, kind models.DocumentKind, upload service.DocumentUpload, actor *models.JWTClaims) (*dto.DocumentView, error)
	Replace(ctx context.Context, documentID string, upload service.DocumentUpload, actor *models.JWTClaims) (*dto.DocumentView, error)
	GetView(ctx context.Context, documentID string, actor *models.JWTClaims) (*dto.DocumentView, error)
	ListEvents(ctx context.Context, documentID string, actor *models.JWTClaims) ([]models.Event, error)
	GetDownloadURL(ctx context.Context, documentID string, actor *models.JWTClaims) (string, error)
	Download(ctx context.Context, documentID, token string) (*service.DocumentDownload, error)
}

// DocumentHandler manages version and appendix file endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Upload godoc
// @Summary Upload a new version or appendix
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Report ID"
// @Param kind formData string true "VERSION or APPENDIX"
// @Param file formData file true "Document file"
// @Success 201 {object} response.Envelope
// @Router /reports/{id}/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UploadDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "kind must be VERSION or APPENDIX"))
		return
	}
	upload, err := formUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.Upload(c.Request.Context(), c.Param("id"), models.DocumentKind(req.Kind), upload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, view, nil)
}

// Replace godoc
// @Summary Replace a document's file in place
// @Description Identity and ordinal are preserved. Replacement is rejected while a change request is open.
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Document ID"
// @Param file formData file true "Replacement file"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/file [put]
func (h *DocumentHandler) Replace(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	upload, err := formUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.Replace(c.Request.Context(), c.Param("id"), upload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Get godoc
// @Summary Get a decorated document with its download URL
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.service.GetView(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	downloadURL, err := h.service.GetDownloadURL(c.Request.Context(), view.ID, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"document": view, "download_url": downloadURL}, nil)
}

// Events godoc
// @Summary Get the document's event timeline
// @Description Returns ACTIVE events oldest first. Superseded rows are filtered out.
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/events [get]
func (h *DocumentHandler) Events(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	events, err := h.service.ListEvents(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// Download godoc
// @Summary Download the current file via signed token
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}

// formUpload extracts the "file" multipart field as a seekable stream.
func formUpload(c *gin.Context) (service.DocumentUpload, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return service.DocumentUpload{}, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return service.DocumentUpload{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	// Multipart temp files are cleaned up by the framework after the
	// request, so the seekable handle can be passed through directly.
	reader, ok := src.(io.ReadSeeker)
	if !ok {
		defer src.Close()
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			return service.DocumentUpload{}, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file")
		}
		reader = bytes.NewReader(buf)
	}
	return service.DocumentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  reader,
	}, nil
}
