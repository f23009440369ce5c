package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classattend/internal/apperr"
	"classattend/internal/attendance"
	"classattend/internal/export"
)

// multipart framing and the scheduleId field on top of the image itself
const formOverhead = 1 << 20

type markResponse struct {
	Success bool `json:"success"`
	*attendance.MarkResult
}

// Mark accepts a multipart form with an "image" file and a "scheduleId"
// field, and records attendance for whoever is in the picture.
func (h *Handler) Mark(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+formOverhead)

	upload, err := h.spool(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var img attendance.Image
	if upload != nil {
		img = upload
	}
	res, err := h.att.Mark(c.Request.Context(), img, c.Request.FormValue("scheduleId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, markResponse{Success: true, MarkResult: res})
}

// spool copies the uploaded image to a temp file. A missing image is not an
// error here; Mark reports it together with a missing scheduleId.
func (h *Handler) spool(c *gin.Context) (*attendance.TempImage, error) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return nil, apperr.BadRequestf("Image must be at most %d MB", h.maxUpload>>20)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, nil
		default:
			return nil, apperr.BadRequestf("Invalid multipart form")
		}
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		return nil, apperr.BadRequestf("Image must be at most %d MB", h.maxUpload>>20)
	}
	img, err := attendance.SaveTemp(h.uploadDir, file, header.Filename)
	if err != nil {
		return nil, apperr.Wrap(err, "spool upload")
	}
	return img, nil
}

func (h *Handler) Recap(c *gin.Context) {
	recap, err := h.att.Recap(c.Request.Context(), c.Param("scheduleId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recap)
}

// Export downloads the recap as csv (default) or xlsx.
func (h *Handler) Export(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	if format != "csv" && format != "xlsx" {
		h.writeError(c, apperr.BadRequestf("format must be csv or xlsx"))
		return
	}

	recap, err := h.att.Recap(c.Request.Context(), c.Param("scheduleId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = export.WriteXLSX(&buf, recap, h.loc)
	} else {
		err = export.WriteCSV(&buf, recap, h.loc)
	}
	if err != nil {
		h.writeError(c, apperr.Wrap(err, "render export"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(recap, format)))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
