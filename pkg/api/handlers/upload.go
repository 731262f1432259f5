package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ziplift/ziplift/pkg/upload"
)

// UploadHandler serves the upload protocol endpoints.
type UploadHandler struct {
	service *upload.Service
}

// NewUploadHandler creates the upload handler.
func NewUploadHandler(service *upload.Service) *UploadHandler {
	return &UploadHandler{service: service}
}

// InitRequest is the body of POST /upload/init.
type InitRequest struct {
	// SessionID resumes an existing session instead of creating one.
	SessionID   string `json:"session_id,omitempty"`
	Filename    string `json:"filename"`
	TotalSize   int64  `json:"total_size"`
	TotalChunks int    `json:"total_chunks"`
}

// Init handles POST /upload/init.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.Initialize(r.Context(), req.SessionID, req.Filename, req.TotalSize, req.TotalChunks)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	WriteJSONOK(w, result)
}

// chunkUpload is the parsed multipart form of POST /upload/chunk. The file
// part must come last so the metadata fields are known before the payload
// is consumed.
type chunkUpload struct {
	sessionID string
	index     int
	hash      string
	payload   io.Reader
}

// Chunk handles POST /upload/chunk. The multipart body is consumed with
// MultipartReader so the chunk payload streams straight into the blob and
// is never buffered in memory or on disk by the HTTP layer.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		BadRequest(w, "expected multipart request body")
		return
	}

	parsed, part, err := parseChunkParts(mr)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	defer part.Close()

	result, err := h.service.AcceptChunk(r.Context(), parsed.sessionID, parsed.index, parsed.payload, parsed.hash)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	WriteJSONOK(w, ChunkResponse{
		ChunkIndex: result.Index,
		Duplicate:  result.Duplicate,
		Progress: Progress{
			Completed: result.ChunksReceived,
			Total:     result.TotalChunks,
		},
	})
}

// ChunkResponse is the body of a successful chunk upload.
type ChunkResponse struct {
	ChunkIndex int      `json:"chunk_index"`
	Duplicate  bool     `json:"duplicate"`
	Progress   Progress `json:"progress"`
}

// Progress reports how many chunks of the session have been received.
type Progress struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
}

// parseChunkParts walks the multipart stream collecting the metadata
// fields until it reaches the chunk file part, which it returns unread.
func parseChunkParts(mr *multipart.Reader) (*chunkUpload, *multipart.Part, error) {
	parsed := &chunkUpload{index: -1}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("missing chunk file part")
		}
		if err != nil {
			return nil, nil, fmt.Errorf("malformed multipart body")
		}

		switch part.FormName() {
		case "session_id":
			value, err := readFormValue(part)
			if err != nil {
				return nil, nil, err
			}
			parsed.sessionID = value

		case "chunk_index":
			value, err := readFormValue(part)
			if err != nil {
				return nil, nil, err
			}
			index, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, fmt.Errorf("chunk_index must be an integer")
			}
			parsed.index = index

		case "chunk_hash":
			value, err := readFormValue(part)
			if err != nil {
				return nil, nil, err
			}
			parsed.hash = value

		case "chunk":
			if parsed.sessionID == "" {
				part.Close()
				return nil, nil, fmt.Errorf("session_id must precede the chunk part")
			}
			if parsed.index < 0 {
				part.Close()
				return nil, nil, fmt.Errorf("chunk_index must precede the chunk part")
			}
			parsed.payload = part
			return parsed, part, nil

		default:
			part.Close()
		}
	}
}

// maxFormValueLen bounds metadata field sizes; anything larger is abuse.
const maxFormValueLen = 256

func readFormValue(part *multipart.Part) (string, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, maxFormValueLen+1))
	if err != nil {
		return "", fmt.Errorf("failed to read field %q", part.FormName())
	}
	if len(data) > maxFormValueLen {
		return "", fmt.Errorf("field %q too long", part.FormName())
	}
	return string(data), nil
}

// Status handles GET /upload/{id}/status.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	WriteJSONOK(w, status)
}

// Contents handles GET /upload/{id}/contents.
func (h *UploadHandler) Contents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.service.Contents(r.Context(), id)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	WriteJSONOK(w, map[string]any{"entries": entries})
}
