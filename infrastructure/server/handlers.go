package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ingest"
	"github.com/ahrav/go-arbiter/internal/review"
)

// ErrBatchNotFound indicates a storage key no upload produced.
var ErrBatchNotFound = errors.New("batch not found")

const sessionKey = "arbiter.session"

// UploadResponse describes a freshly ingested batch.
type UploadResponse struct {
	Key     string        `json:"key"`
	Mode    string        `json:"mode"`
	Rows    int           `json:"rows"`
	Items   int           `json:"items"`
	Report  ingest.Report `json:"report"`
	Summary string        `json:"summary"`
}

// BatchResponse is a document with its current decisions.
type BatchResponse struct {
	Document  *application.Document  `json:"document"`
	Decisions domain.SessionSnapshot `json:"decisions"`
}

// RowResponse is one row as a reviewer sees it.
type RowResponse struct {
	Row domain.ComparisonRow `json:"row"`
	// Labels maps every slot of the row to its resolved display name.
	Labels map[string]string        `json:"labels"`
	Result *domain.ComparisonResult `json:"result,omitempty"`
	// Agreement is the mean summary similarity of the primary output to
	// each alternative, when every compared output parsed.
	Agreement *float64 `json:"agreement,omitempty"`
}

// PickRequest records a winner. Confidence and Reasoning are applied after
// the pick when present.
type PickRequest struct {
	Winner     string  `json:"winner" validate:"required,winnerid"`
	Confidence *int    `json:"confidence" validate:"omitempty,min=1,max=5"`
	Reasoning  *string `json:"reasoning" validate:"omitempty,max=4000"`
}

// AdjustRequest changes an existing result.
type AdjustRequest struct {
	Confidence *int    `json:"confidence" validate:"omitempty,min=1,max=5"`
	Reasoning  *string `json:"reasoning" validate:"omitempty,max=4000"`
}

// RenameRequest sets a slot's display name. An empty name clears it.
type RenameRequest struct {
	Name string `json:"name" validate:"max=100"`
}

// FeedbackRequest approves or rejects one JSON-mode suggestion.
type FeedbackRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Comment  string `json:"comment" validate:"max=4000"`
}

// DiffRequest asks for the line diff of two texts.
type DiffRequest struct {
	Path string `json:"path" validate:"omitempty,max=1024"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// DiffResponse carries both renderings of a diff.
type DiffResponse struct {
	Lines   []string         `json:"lines"`
	Stats   review.DiffStats `json:"stats"`
	Unified string           `json:"unified"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleUpload ingests the request body. The mode query parameter forces
// csv or json; otherwise the mode is detected from the text.
func (s *Server) handleUpload(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		abortWithError(c, err)
		return
	}
	text := string(body)

	var doc *application.Document
	switch mode := c.Query("mode"); mode {
	case "":
		doc, err = s.ingest.Load(c.Request.Context(), text)
	case application.ModeCSV:
		doc, err = s.ingest.LoadCSV(c.Request.Context(), text)
	case application.ModeJSON:
		doc, err = s.ingest.LoadJSON(c.Request.Context(), text)
	default:
		abortWithError(c, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, mode))
		return
	}

	var batchErr *domain.BatchError
	if errors.As(err, &batchErr) && doc != nil && doc.Batch != nil {
		_ = c.Error(err)
		report := doc.Batch.Report
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:  err.Error(),
			Code:   CodeNoRows,
			Report: &report,
		})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := UploadResponse{Key: doc.Key, Mode: doc.Mode, Items: len(doc.Items)}
	if doc.Batch != nil {
		resp.Rows = len(doc.Batch.Rows)
		resp.Report = doc.Batch.Report
	} else {
		resp.Report = ingest.Report{TotalProcessed: len(doc.Sets)}
	}
	resp.Summary = resp.Report.Summary()

	c.Header("Location", "/v1/batches/"+doc.Key)
	c.JSON(http.StatusCreated, resp)
}

// loadSession resolves :key to its session for the batch routes.
func (s *Server) loadSession(c *gin.Context) {
	key := c.Param("key")
	doc, ok := s.ingest.Get(key)
	if !ok {
		_ = c.Error(ErrBatchNotFound)
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("%v: %s", ErrBatchNotFound, key),
			Code:  CodeNotFound,
		})
		return
	}
	sess, err := s.sessions.Open(c.Request.Context(), doc)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func session(c *gin.Context) *application.Session {
	return c.MustGet(sessionKey).(*application.Session)
}

func (s *Server) handleGetBatch(c *gin.Context) {
	sess := session(c)
	c.JSON(http.StatusOK, BatchResponse{Document: sess.Document(), Decisions: sess.Snapshot()})
}

func (s *Server) handleGetRow(c *gin.Context) {
	sess := session(c)
	id := c.Param("id")

	doc := sess.Document()
	if doc.Batch == nil {
		abortWithError(c, fmt.Errorf("%w: %s (document has no rows)", domain.ErrRowNotFound, id))
		return
	}
	row, ok := doc.Batch.Row(id)
	if !ok {
		abortWithError(c, fmt.Errorf("%w: %s", domain.ErrRowNotFound, id))
		return
	}

	resp := RowResponse{Row: row, Labels: make(map[string]string)}
	for _, opt := range row.Options() {
		resp.Labels[opt.Slot] = sess.Label(row, opt.Slot)
	}
	if res, ok := sess.Result(id); ok {
		resp.Result = &res
	}
	if score, ok := review.Agreement(row); ok {
		resp.Agreement = &score
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePickWinner(c *gin.Context) {
	var req PickRequest
	if !s.bind(c, &req) {
		return
	}
	sess := session(c)
	ctx := c.Request.Context()
	id := c.Param("id")

	res, err := sess.PickWinner(ctx, id, req.Winner)
	if err == nil && req.Confidence != nil {
		res, err = sess.SetConfidence(ctx, id, *req.Confidence)
	}
	if err == nil && req.Reasoning != nil {
		res, err = sess.SetReasoning(ctx, id, *req.Reasoning)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAdjustResult(c *gin.Context) {
	var req AdjustRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Confidence == nil && req.Reasoning == nil {
		abortWithError(c, fmt.Errorf("%w: nothing to change", domain.ErrInvalidInput))
		return
	}
	sess := session(c)
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		res domain.ComparisonResult
		err error
	)
	if req.Confidence != nil {
		res, err = sess.SetConfidence(ctx, id, *req.Confidence)
	}
	if err == nil && req.Reasoning != nil {
		res, err = sess.SetReasoning(ctx, id, *req.Reasoning)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRenameSlot(c *gin.Context) {
	slot := c.Param("slot")
	if err := s.validate.Var(slot, "slotid"); err != nil {
		abortWithError(c, fmt.Errorf("%w: %q", domain.ErrUnknownSlot, slot))
		return
	}
	var req RenameRequest
	if !s.bind(c, &req) {
		return
	}
	sess := session(c)
	if err := sess.RenameSlot(c.Request.Context(), slot, req.Name); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": sess.Snapshot().Labels})
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req FeedbackRequest
	if !s.bind(c, &req) {
		return
	}
	fb, err := session(c).SetFeedback(c.Request.Context(), c.Param("id"), *req.Approved, req.Comment)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fb)
}

func (s *Server) handleReset(c *gin.Context) {
	if err := session(c).Reset(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStats(c *gin.Context) {
	sess := session(c)
	snap := sess.Snapshot()
	var rows []domain.ComparisonRow
	if b := sess.Document().Batch; b != nil {
		rows = b.Rows
	}
	c.JSON(http.StatusOK, application.ComputeStats(rows, snap.Results, snap.Labels))
}

func (s *Server) handleExport(c *gin.Context) {
	sess := session(c)
	kind := application.ExportKindAB
	if sess.Document().Mode == application.ModeJSON {
		kind = application.ExportKindFeedback
	}
	name := application.ExportFileName(kind, time.Now())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.JSON(http.StatusOK, application.Export(sess))
}

func (s *Server) handleDiff(c *gin.Context) {
	var req DiffRequest
	if !s.bind(c, &req) {
		return
	}
	path := req.Path
	if path == "" {
		path = "snippet"
	}
	unified, err := review.RenderFileDiff(path, req.Old, req.New)
	if err != nil {
		abortWithError(c, err)
		return
	}
	lines := review.UnifiedDiff(req.Old, req.New)
	c.JSON(http.StatusOK, DiffResponse{Lines: lines, Stats: review.Stats(lines), Unified: unified})
}

// bind decodes the JSON body into req and validates it. It writes the
// error reply and returns false on failure.
func (s *Server) bind(c *gin.Context, req any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
	if err := c.ShouldBindJSON(req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		abortWithError(c, err)
		return false
	}
	return true
}
