package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/Lllllllleong/pdfmerge/internal/session"
)

// ErrorResponse is the JSON body of every non-PDF response.
type ErrorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Documents  int    `json:"documents,omitempty"`
	Failures   int    `json:"failures,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// handleMerge handles POST /v1/merge. Files are merged in part order.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	batchID := uuid.NewString()
	log := s.logger.With("batch_id", batchID)
	w.Header().Set("X-Batch-Id", batchID)

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, ErrorResponse{Error: "expected a multipart form"}, http.StatusBadRequest)
		return
	}

	dir, err := os.MkdirTemp("", "pdfmerge-"+batchID+"-*")
	if err != nil {
		log.Error("failed to create temp dir", "error", err)
		s.sendError(w, ErrorResponse{Error: "internal error"}, http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	paths, allowPartial, err := saveParts(reader, dir)
	if err != nil {
		log.Error("failed to read upload", "error", err)
		s.sendError(w, ErrorResponse{Error: err.Error()}, http.StatusBadRequest)
		return
	}
	if len(paths) == 0 {
		s.sendError(w, ErrorResponse{Error: "no files in request"}, http.StatusBadRequest)
		return
	}

	sess := session.New(s.ingester, s.merger)
	validity := sess.Open(paths)
	docs := len(sess.CurrentDocuments())
	failures := sess.Failures()
	lastErr, _ := sess.LastErrorMessage()
	log.Info("batch ingested", "inputs", len(paths), "documents", docs, "failures", failures, "validity", validity.String())

	if docs == 0 || (validity == session.SomeInvalid && !allowPartial) {
		s.sendError(w, ErrorResponse{
			Error:     "batch rejected",
			Documents: docs,
			Failures:  failures,
			LastError: lastErr,
		}, http.StatusUnprocessableEntity)
		return
	}

	out := filepath.Join(dir, "merged.pdf")
	if err := sess.Merge(out); err != nil {
		log.Error("merge failed", "error", err)
		s.sendError(w, ErrorResponse{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(out)
	if err != nil {
		log.Error("failed to open merged output", "error", err)
		s.sendError(w, ErrorResponse{Error: "internal error"}, http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="merged.pdf"`)
	w.Header().Set("X-Ingest-Failures", strconv.Itoa(failures))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Error("failed to write response", "error", err)
	}
}

// saveParts writes every "files" part to dir in arrival order and reads the
// allow_partial field.
func saveParts(reader *multipart.Reader, dir string) ([]string, bool, error) {
	var paths []string
	allowPartial := false
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return paths, allowPartial, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("reading multipart body: %w", err)
		}
		if err := savePart(part, dir, &paths, &allowPartial); err != nil {
			return nil, false, err
		}
	}
}

// savePart consumes one part and always closes it.
func savePart(part *multipart.Part, dir string, paths *[]string, allowPartial *bool) error {
	defer part.Close()

	switch part.FormName() {
	case "files":
		p := filepath.Join(dir, fmt.Sprintf("%05d-%s", len(*paths), filepath.Base(part.FileName())))
		if err := writePart(part, p); err != nil {
			return err
		}
		*paths = append(*paths, p)
	case "allow_partial":
		v, err := io.ReadAll(io.LimitReader(part, 16))
		if err != nil {
			return fmt.Errorf("reading allow_partial: %w", err)
		}
		*allowPartial, err = strconv.ParseBool(string(v))
		if err != nil {
			return fmt.Errorf("invalid allow_partial %q", v)
		}
	}
	return nil
}

func writePart(part *multipart.Part, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(f, part); err != nil {
		f.Close()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("upload exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("writing %s: %w", part.FileName(), err)
	}
	return f.Close()
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) sendError(w http.ResponseWriter, resp ErrorResponse, statusCode int) {
	resp.StatusCode = statusCode
	s.sendJSON(w, resp, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
