// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragd-dev/ragd/internal/ingest"
	"github.com/ragd-dev/ragd/internal/rag"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
	s.registerUploadRoute()
	s.registerStreamRoute()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Backends, namespaces and provider health",
		Tags:        []string{"system"},
	}, s.handleStatus)

	// Query endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "ask",
		Method:      http.MethodPost,
		Path:        "/api/v1/ask",
		Summary:     "Answer a question from retrieved context",
		Tags:        []string{"query"},
	}, s.handleAsk)

	huma.Register(s.api, huma.Operation{
		OperationID: "retrieve",
		Method:      http.MethodPost,
		Path:        "/api/v1/retrieve",
		Summary:     "Rank stored chunks against a query without generating",
		Tags:        []string{"query"},
	}, s.handleRetrieve)

	// RAG lifecycle
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-rag",
		Method:        http.MethodPost,
		Path:          "/api/v1/rags",
		Summary:       "Build a RAG from a folder of documents",
		Tags:          []string{"rags"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateRAG)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-rags",
		Method:      http.MethodGet,
		Path:        "/api/v1/rags",
		Summary:     "List RAGs",
		Tags:        []string{"rags"},
	}, s.handleListRAGs)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-rag",
		Method:      http.MethodGet,
		Path:        "/api/v1/rags/{name}",
		Summary:     "Summarize a RAG",
		Tags:        []string{"rags"},
	}, s.handleSummary)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-rag",
		Method:      http.MethodDelete,
		Path:        "/api/v1/rags/{name}",
		Summary:     "Delete a RAG",
		Tags:        []string{"rags"},
	}, s.handleDeleteRAG)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-rag-files",
		Method:      http.MethodGet,
		Path:        "/api/v1/rags/{name}/files",
		Summary:     "List files stored in a RAG",
		Tags:        []string{"rags"},
	}, s.handleListFiles)

	huma.Register(s.api, huma.Operation{
		OperationID: "remove-rag-file",
		Method:      http.MethodDelete,
		Path:        "/api/v1/rags/{name}/files/{file}",
		Summary:     "Remove every vector of a file",
		Tags:        []string{"rags"},
	}, s.handleRemoveFile)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-rag-vectors",
		Method:      http.MethodPost,
		Path:        "/api/v1/rags/{name}/vectors:delete",
		Summary:     "Delete vectors by id",
		Tags:        []string{"rags"},
	}, s.handleDeleteVectors)

	// Ingestion
	huma.Register(s.api, huma.Operation{
		OperationID:   "ingest-url",
		Method:        http.MethodPost,
		Path:          "/api/v1/rags/{name}/urls",
		Summary:       "Fetch a web page or PDF and ingest it",
		Tags:          []string{"ingest"},
		DefaultStatus: http.StatusCreated,
	}, s.handleIngestURL)

	huma.Register(s.api, huma.Operation{
		OperationID:   "ingest-text",
		Method:        http.MethodPost,
		Path:          "/api/v1/rags/{name}/texts",
		Summary:       "Ingest already extracted text",
		Tags:          []string{"ingest"},
		DefaultStatus: http.StatusCreated,
	}, s.handleIngestText)

	// Default RAG
	huma.Register(s.api, huma.Operation{
		OperationID: "get-default-rag",
		Method:      http.MethodGet,
		Path:        "/api/v1/default-rag",
		Summary:     "Get the default RAG",
		Tags:        []string{"rags"},
	}, s.handleGetDefault)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-default-rag",
		Method:      http.MethodPut,
		Path:        "/api/v1/default-rag",
		Summary:     "Set the default RAG",
		Tags:        []string{"rags"},
	}, s.handleSetDefault)

	huma.Register(s.api, huma.Operation{
		OperationID: "data-tree",
		Method:      http.MethodGet,
		Path:        "/api/v1/tree",
		Summary:     "List files under the data folder",
		Tags:        []string{"ingest"},
	}, s.handleTree)
}

// --- Request/Response types for huma ---

type askBody struct {
	Query     string   `json:"query,omitempty" doc:"Natural-language question"`
	RAGNames  []string `json:"rag_names,omitempty" doc:"Namespaces to search; defaults to the default RAG, then all"`
	TopK      int      `json:"top_k,omitempty" minimum:"0" doc:"Number of chunks used as context"`
	Threshold *float32 `json:"threshold,omitempty" doc:"Minimum cosine similarity"`
	Model     string   `json:"model,omitempty" doc:"provider/model; empty uses the configured default"`
}

type askInput struct {
	Body askBody
}
type askOutput struct {
	Body rag.Answer
}

type retrieveInput struct {
	Body struct {
		Query     string   `json:"query,omitempty" doc:"Natural-language question"`
		RAGNames  []string `json:"rag_names,omitempty" doc:"Namespaces to search"`
		TopK      int      `json:"top_k,omitempty" minimum:"0" doc:"Number of chunks returned"`
		Threshold *float32 `json:"threshold,omitempty" doc:"Minimum cosine similarity"`
	}
}
type retrieveOutput struct {
	Body rag.Retrieval
}

type createRAGInput struct {
	Body struct {
		RAGName string `json:"rag_name,omitempty" doc:"Namespace to create"`
		Folder  string `json:"folder,omitempty" doc:"Source folder; defaults to the data folder"`
	}
}
type createRAGOutput struct {
	Body rag.CreateResult
}

type listRAGsOutput struct {
	Body struct {
		RAGs []rag.RAGInfo `json:"rags"`
	}
}

type ragNameInput struct {
	Name string `path:"name" doc:"RAG name"`
}
type summaryOutput struct {
	Body rag.Summary
}

type messageOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

type listFilesOutput struct {
	Body struct {
		RAGName string   `json:"rag_name"`
		Files   []string `json:"files"`
	}
}

type removeFileInput struct {
	Name string `path:"name" doc:"RAG name"`
	File string `path:"file" doc:"File name as listed by the files endpoint"`
}
type removeFileOutput struct {
	Body struct {
		RAGName        string `json:"rag_name"`
		FileName       string `json:"file_name"`
		VectorsRemoved int    `json:"vectors_removed"`
	}
}

type deleteVectorsInput struct {
	Name string `path:"name" doc:"RAG name"`
	Body struct {
		IDs []string `json:"ids,omitempty" doc:"Vector ids to delete"`
	}
}
type deleteVectorsOutput struct {
	Body struct {
		RAGName string `json:"rag_name"`
		Deleted int    `json:"deleted"`
	}
}

type ingestURLInput struct {
	Name string `path:"name" doc:"RAG name"`
	Body struct {
		URL string `json:"url,omitempty" doc:"http or https URL"`
	}
}
type ingestTextInput struct {
	Name string `path:"name" doc:"RAG name"`
	Body struct {
		Source string `json:"source,omitempty" doc:"Source path or name; its base name becomes the file name"`
		Text   string `json:"text,omitempty" doc:"Plain text to chunk and embed"`
	}
}
type ingestOutput struct {
	Body rag.IngestResult
}

type getDefaultOutput struct {
	Body struct {
		DefaultRAG *string `json:"default_rag"`
		Message    string  `json:"message,omitempty"`
	}
}

type setDefaultInput struct {
	Body struct {
		RAGName string `json:"rag_name,omitempty" doc:"Namespace used when a query names none"`
	}
}

type treeOutput struct {
	Body map[string][]string
}

// StatusBody is the JSON body of the status endpoint.
type StatusBody struct {
	Status         string                    `json:"status" example:"ok"`
	Version        string                    `json:"version"`
	VectorBackend  string                    `json:"vector_backend"`
	Embedder       string                    `json:"embedder"`
	EmbedderHealth *health.Metrics           `json:"embedder_health,omitempty"`
	Namespaces     int                       `json:"namespaces"`
	DefaultRAG     *string                   `json:"default_rag"`
	Providers      map[string]health.Metrics `json:"providers"`
	DataFolder     string                    `json:"data_folder,omitempty"`
}

type statusOutput struct {
	Body StatusBody
}

// --- Handlers ---

func (s *Server) handleStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body = StatusBody{
		Status:        "ok",
		Version:       s.cfg.Version,
		VectorBackend: s.services.info.VectorBackend,
		Embedder:      s.services.info.Embedder,
		Providers:     map[string]health.Metrics{},
		DataFolder:    s.services.rag.DataFolder(),
	}

	rags, err := s.services.rag.ListRAGs(ctx)
	if err != nil {
		slog.Warn("status: listing rags failed", "error", err)
		out.Body.Status = "degraded"
	}
	out.Body.Namespaces = len(rags)

	if def, ok, err := s.services.rag.DefaultRAG(); err == nil && ok {
		out.Body.DefaultRAG = &def
	}
	if s.services.providers != nil {
		out.Body.Providers = s.services.providers.HealthMetrics()
	}
	if s.services.embedder != nil {
		m := s.services.embedder.HealthMetrics()
		out.Body.EmbedderHealth = &m
		if !m.Available {
			out.Body.Status = "degraded"
		}
	}
	return out, nil
}

func (s *Server) handleAsk(ctx context.Context, input *askInput) (*askOutput, error) {
	ans, err := s.services.rag.Ask(ctx, input.Body.request(ctx))
	if err != nil {
		return nil, apiError(err)
	}
	return &askOutput{Body: ans}, nil
}

func (b askBody) request(ctx context.Context) rag.AskRequest {
	return rag.AskRequest{
		Query:      b.Query,
		Namespaces: b.RAGNames,
		TopK:       b.TopK,
		Threshold:  b.Threshold,
		Model:      b.Model,
		RequestID:  middleware.GetReqID(ctx),
	}
}

func (s *Server) handleRetrieve(ctx context.Context, input *retrieveInput) (*retrieveOutput, error) {
	res, err := s.services.rag.Retrieve(ctx, rag.RetrieveRequest{
		Query:      input.Body.Query,
		Namespaces: input.Body.RAGNames,
		TopK:       input.Body.TopK,
		Threshold:  input.Body.Threshold,
	})
	if err != nil {
		return nil, apiError(err)
	}
	return &retrieveOutput{Body: res}, nil
}

func (s *Server) handleCreateRAG(ctx context.Context, input *createRAGInput) (*createRAGOutput, error) {
	res, err := s.services.rag.CreateRAG(ctx, input.Body.RAGName, input.Body.Folder)
	if err != nil {
		return nil, apiError(err)
	}
	return &createRAGOutput{Body: res}, nil
}

func (s *Server) handleListRAGs(ctx context.Context, _ *struct{}) (*listRAGsOutput, error) {
	rags, err := s.services.rag.ListRAGs(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	out := &listRAGsOutput{}
	out.Body.RAGs = rags
	return out, nil
}

func (s *Server) handleSummary(ctx context.Context, input *ragNameInput) (*summaryOutput, error) {
	sum, err := s.services.rag.Summary(ctx, input.Name)
	if err != nil {
		return nil, apiError(err)
	}
	return &summaryOutput{Body: sum}, nil
}

func (s *Server) handleDeleteRAG(ctx context.Context, input *ragNameInput) (*messageOutput, error) {
	if err := s.services.rag.DeleteRAG(ctx, input.Name); err != nil {
		return nil, apiError(err)
	}
	slog.Info("rag deleted", "namespace", input.Name, "caller", callerID(ctx))
	out := &messageOutput{}
	out.Body.Message = "RAG '" + input.Name + "' deleted"
	return out, nil
}

func (s *Server) handleListFiles(ctx context.Context, input *ragNameInput) (*listFilesOutput, error) {
	files, err := s.services.rag.ListFiles(ctx, input.Name)
	if err != nil {
		return nil, apiError(err)
	}
	out := &listFilesOutput{}
	out.Body.RAGName = input.Name
	out.Body.Files = files
	return out, nil
}

func (s *Server) handleRemoveFile(ctx context.Context, input *removeFileInput) (*removeFileOutput, error) {
	n, err := s.services.rag.RemoveSource(ctx, input.Name, input.File)
	if err != nil {
		return nil, apiError(err)
	}
	slog.Info("rag file removed", "namespace", input.Name, "file", input.File, "vectors", n, "caller", callerID(ctx))
	out := &removeFileOutput{}
	out.Body.RAGName = input.Name
	out.Body.FileName = input.File
	out.Body.VectorsRemoved = n
	return out, nil
}

func (s *Server) handleDeleteVectors(ctx context.Context, input *deleteVectorsInput) (*deleteVectorsOutput, error) {
	if err := s.services.rag.RemoveVectors(ctx, input.Name, input.Body.IDs); err != nil {
		return nil, apiError(err)
	}
	out := &deleteVectorsOutput{}
	out.Body.RAGName = input.Name
	out.Body.Deleted = len(input.Body.IDs)
	return out, nil
}

func (s *Server) handleIngestURL(ctx context.Context, input *ingestURLInput) (*ingestOutput, error) {
	res, err := s.services.rag.IngestURL(ctx, input.Name, input.Body.URL)
	if err != nil {
		return nil, apiError(err)
	}
	return &ingestOutput{Body: res}, nil
}

func (s *Server) handleIngestText(ctx context.Context, input *ingestTextInput) (*ingestOutput, error) {
	res, err := s.services.rag.IngestText(ctx, input.Name, input.Body.Source, input.Body.Text)
	if err != nil {
		return nil, apiError(err)
	}
	return &ingestOutput{Body: res}, nil
}

func (s *Server) handleGetDefault(_ context.Context, _ *struct{}) (*getDefaultOutput, error) {
	name, ok, err := s.services.rag.DefaultRAG()
	if err != nil {
		return nil, apiError(err)
	}
	out := &getDefaultOutput{}
	if !ok {
		out.Body.Message = "No default RAG has been set."
		return out, nil
	}
	out.Body.DefaultRAG = &name
	return out, nil
}

func (s *Server) handleSetDefault(ctx context.Context, input *setDefaultInput) (*getDefaultOutput, error) {
	name := input.Body.RAGName
	if err := s.services.rag.SetDefaultRAG(name); err != nil {
		return nil, apiError(err)
	}
	slog.Info("default rag set", "namespace", name, "caller", callerID(ctx))
	out := &getDefaultOutput{}
	out.Body.DefaultRAG = &name
	out.Body.Message = "Default RAG set to '" + name + "'"
	return out, nil
}

func (s *Server) handleTree(_ context.Context, _ *struct{}) (*treeOutput, error) {
	folder := s.services.rag.DataFolder()
	if folder == "" {
		return nil, huma.Error503ServiceUnavailable("no data folder configured")
	}
	tree, err := ingest.Tree(folder)
	if err != nil {
		return nil, apiError(err)
	}
	return &treeOutput{Body: tree}, nil
}

// apiError converts a coded error into a huma error carrying the status
// its code maps to.
func apiError(err error) error {
	return huma.NewError(statusOf(err), err.Error())
}

// statusOf maps err to an HTTP status. A create conflict is reported as
// 400.
func statusOf(err error) int {
	status := ragerr.HTTPStatus(err)
	if ragerr.HasCode(err, ragerr.CodeRAGCreateConflict) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", ragerr.CodeOf(err), "status", status, "error", err)
	}
	return status
}
