// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ragd-dev/ragd/internal/ingest"
)

// UploadsDir is the data-folder subdirectory holding uploaded files.
const UploadsDir = ingest.UploadsDir

const uploadFormMemory = 8 << 20

func (s *Server) registerUploadRoute() {
	s.router.Post("/api/v1/rags/{name}/uploads", s.handleUpload)

	// Multipart bodies are streamed straight to disk, so the route is
	// served by chi and only documented through huma.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "upload-file",
		Method:      http.MethodPost,
		Path:        "/api/v1/rags/{name}/uploads",
		Summary:     "Upload a PDF or TXT file and ingest it",
		Tags:        []string{"ingest"},
		Parameters: []*huma.Param{{
			Name:     "name",
			In:       "path",
			Required: true,
			Schema:   &huma.Schema{Type: "string"},
		}},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"multipart/form-data": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"file"},
						Properties: map[string]*huma.Schema{
							"file": {Type: "string", Format: "binary", Description: "A .pdf or .txt document"},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"201": {Description: "File ingested"},
			"400": {Description: "Missing file or unsupported type"},
			"413": {Description: "File exceeds the upload limit"},
		},
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	folder := s.services.rag.DataFolder()
	if folder == "" {
		writeProblem(w, http.StatusServiceUnavailable, "no data folder configured for uploads")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(uploadFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
			return
		}
		writeProblem(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	fileName := filepath.Base(strings.ReplaceAll(header.Filename, `\`, "/"))
	if fileName == "." || fileName == "/" || strings.HasPrefix(fileName, ".") {
		writeProblem(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if !ingest.Supported(fileName) {
		writeProblem(w, http.StatusBadRequest, "unsupported file type; only .pdf and .txt are accepted")
		return
	}

	dir := filepath.Join(folder, UploadsDir, uuid.NewString())
	if err := ingest.EnsureDir(dir); err != nil {
		writeProblem(w, statusOf(err), err.Error())
		return
	}
	path := filepath.Join(dir, fileName)
	if err := saveUpload(path, file); err != nil {
		slog.Error("saving upload", "path", path, "error", err)
		writeProblem(w, http.StatusInternalServerError, "saving uploaded file")
		return
	}
	slog.Info("saved upload", "namespace", name, "path", path, "bytes", header.Size)

	res, err := s.services.rag.IngestFile(r.Context(), name, path)
	if err != nil {
		writeProblem(w, statusOf(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Warn("failed to write upload response", "error", err)
	}
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return err
	}
	return dst.Close()
}

// writeProblem writes the same problem+json body huma uses for its errors.
func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(huma.NewError(status, detail)); err != nil {
		slog.Warn("failed to write error response", "error", err)
	}
}
