package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iacondiego/demo-agente-n8n/internal/files"
)

// multipart parsing overhead on top of the file payload itself.
const uploadBodyLimit = files.MaxSize + 1<<20

type uploadedFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Size      int    `json:"size"`
	URL       string `json:"url"`
	MimeType  string `json:"mimeType"`
	SessionID string `json:"sessionId"`
}

type uploadResponse struct {
	Success bool         `json:"success"`
	File    uploadedFile `json:"file"`
	Message string       `json:"message"`
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, uploadBodyLimit)
	if err := r.ParseMultipartForm(files.MaxSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "file too large or malformed multipart body")
		return
	}

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		s.logger.Error("read upload", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	f, err := s.files.Add(header.Filename, header.Header.Get("Content-Type"), data, sessionID)
	if errors.Is(err, files.ErrTypeNotAllowed) {
		s.writeError(w, http.StatusBadRequest, "file type not allowed, only images and audio")
		return
	}
	if errors.Is(err, files.ErrTooLarge) {
		s.writeError(w, http.StatusBadRequest, "file too large, maximum 10MB")
		return
	}
	if err != nil {
		s.logger.Error("store upload", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	storedFiles.Set(float64(s.files.Count()))

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		File: uploadedFile{
			ID:        f.ID,
			Name:      f.Name,
			Type:      f.Kind(),
			Size:      f.Size(),
			URL:       "/api/files/" + f.ID,
			MimeType:  f.MimeType,
			SessionID: f.SessionID,
		},
		Message: "file uploaded",
	})
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileID")

	f, err := s.files.Get(id)
	if errors.Is(err, files.ErrExpired) {
		s.writeError(w, http.StatusGone, "file expired")
		return
	}
	if errors.Is(err, files.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error("get file", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get file")
		return
	}

	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.Name))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Data); err != nil {
		s.logger.Error("write file response", "error", err)
	}
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "OK",
		"maxFileSize":  files.MaxSize,
		"allowedTypes": files.AllowedTypes(),
	})
}
