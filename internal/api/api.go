package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/ingest"
	"github.com/celerix-dev/celerix-collections/internal/mutation"
	"github.com/celerix-dev/celerix-collections/internal/query"
	"github.com/celerix-dev/celerix-collections/internal/sheet"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// Ingester stores a batch of rows.
type Ingester interface {
	Ingest(ctx context.Context, rows []ingest.Row) schema.IngestResult
}

// Editor applies a patch to one record.
type Editor interface {
	Update(ctx context.Context, recordID int64, patch schema.Patch) (schema.Record, error)
}

// Handler serves the HTTP API over the store, the ingestion pipeline and
// the mutation gateway.
type Handler struct {
	Store    engine.Reader
	Pipeline Ingester
	Gateway  Editor
	// MaxUploadBytes caps the size of an uploaded file. 0 disables the check.
	MaxUploadBytes int64
}

// multipartOverhead leaves room for the form envelope around the file.
const multipartOverhead = 1 << 20

// Upload ingests a multipart "file" field and returns the batch manifest.
func (h *Handler) Upload(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody("upload exceeds size limit", schema.CodeValidation))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody("no file uploaded", schema.CodeValidation))
		return
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody("upload exceeds size limit", schema.CodeValidation))
		return
	}
	if !sheet.Supported(fh.Filename) {
		c.JSON(http.StatusBadRequest, errorBody("only .xlsx, .xlsm and .csv files are supported", schema.CodeValidation))
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), schema.CodeValidation))
		return
	}
	defer f.Close()

	s, err := sheet.Read(fh.Filename, f)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), schema.CodeValidation))
		return
	}

	res := h.Pipeline.Ingest(c.Request.Context(), s.Rows)
	if len(s.Issues) > 0 {
		res.Errors = append(append([]string{}, s.Issues...), res.Errors...)
	}
	c.JSON(http.StatusOK, res)
}

// List serves the full view. Query parameters follow schema.Query.
func (h *Handler) List(c *gin.Context) {
	h.list(c, nil)
}

// ListEditable serves the view restricted to editable records.
func (h *Handler) ListEditable(c *gin.Context) {
	locked := false
	h.list(c, &locked)
}

// ListReadOnly serves the view restricted to read-only records.
func (h *Handler) ListReadOnly(c *gin.Context) {
	locked := true
	h.list(c, &locked)
}

func (h *Handler) list(c *gin.Context, locked *bool) {
	var q schema.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), schema.CodeValidation))
		return
	}
	if locked != nil {
		q.ReadOnly = locked
	}
	opts, err := query.Compile(q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, query.Run(h.Store.List(), opts))
}

// History lists every record imported under the external id, newest first.
func (h *Handler) History(c *gin.Context) {
	list, err := h.Store.History(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Stats returns record counts by lock state.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.Stats())
}

// Get returns one record by record_id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	rec, err := h.Store.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Update applies a JSON patch to an editable record.
func (h *Handler) Update(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), schema.CodeValidation))
		return
	}
	patch, err := mutation.DecodePatch(body)
	if err != nil {
		respondError(c, err)
		return
	}
	rec, err := h.Gateway.Update(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Health reports liveness and the record count.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "records": h.Store.Stats().Total})
}

func recordID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("record_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody("record_id must be a positive integer", schema.CodeValidation))
		return 0, false
	}
	return id, true
}

func errorBody(msg string, code schema.Code) gin.H {
	return gin.H{"error": msg, "code": code}
}

// respondError maps the error kind to an HTTP status.
func respondError(c *gin.Context, err error) {
	code := schema.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case schema.CodeValidation:
		status = http.StatusBadRequest
	case schema.CodeNotFound:
		status = http.StatusNotFound
	case schema.CodeLocked:
		status = http.StatusConflict
	}
	c.JSON(status, errorBody(err.Error(), code))
}
