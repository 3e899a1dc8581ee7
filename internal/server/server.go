package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"spacedrive/internal/app"
	"spacedrive/internal/identity"
	"spacedrive/internal/ratelimit"
	"spacedrive/internal/util"
	"spacedrive/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Verifier       *identity.Verifier
	UploadLimiter  *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes the HTTP surface over the orchestrator. It parses requests,
// maps the core's error kinds to status codes, and serializes entities; all
// rules live in the app layer.
type Server struct {
	app            *app.App
	verifier       *identity.Verifier
	uploadLimiter  *ratelimit.FixedWindowLimiter
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("identity verifier required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		verifier:       cfg.Verifier,
		uploadLimiter:  cfg.UploadLimiter,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// spaces
	s.mux.Handle("/api/spaces", s.withIdentity(s.handleSpaces))
	s.mux.Handle("/api/spaces/", s.withIdentity(s.handleSpaceSubtree))

	// files
	s.mux.Handle("/api/files/", s.withIdentity(s.handleFileByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ident, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, ident)
	})
}

// /api/spaces
func (s *Server) handleSpaces(w http.ResponseWriter, r *http.Request, ident domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		spaces, err := s.app.ListSpaces(r.Context(), ident.Email)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": spaces, "count": len(spaces)})
	case http.MethodPost:
		var req spaceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		space, err := s.app.CreateSpace(r.Context(), req.Name, req.Description, ident)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, space)
	default:
		methodNotAllowed(w)
	}
}

// /api/spaces/{id}[/members[/{email}]|/files|/activity]
func (s *Server) handleSpaceSubtree(w http.ResponseWriter, r *http.Request, ident domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/spaces/")
	parts := strings.SplitN(path, "/", 3)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	if len(parts) == 1 {
		s.handleSpaceByID(w, r, ident, id)
		return
	}
	switch parts[1] {
	case "activity":
		if len(parts) == 2 {
			s.handleActivity(w, r, ident, id)
			return
		}
	case "files":
		if len(parts) == 2 {
			s.handleSpaceFiles(w, r, ident, id)
			return
		}
	case "members":
		if len(parts) == 2 {
			s.handleAddMember(w, r, ident, id)
			return
		}
		if email, err := url.PathUnescape(parts[2]); err == nil && email != "" {
			s.handleMemberByEmail(w, r, ident, id, email)
			return
		}
	}
	notFound(w)
}

func (s *Server) handleSpaceByID(w http.ResponseWriter, r *http.Request, ident domain.Identity, id string) {
	switch r.Method {
	case http.MethodGet:
		space, err := s.app.GetSpace(r.Context(), id, ident.Email)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, space)
	case http.MethodPut:
		var req spaceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		space, err := s.app.UpdateSpace(r.Context(), id, req.Name, req.Description, ident.Email)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, space)
	case http.MethodDelete:
		if err := s.app.DeleteSpace(r.Context(), id, ident.Email); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request, ident domain.Identity, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.app.ActivityLog(r.Context(), id, ident.Email)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (s *Server) handleSpaceFiles(w http.ResponseWriter, r *http.Request, ident domain.Identity, id string) {
	switch r.Method {
	case http.MethodGet:
		files, err := s.app.ListFiles(r.Context(), id, ident.Email)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": files, "count": len(files)})
	case http.MethodPost:
		s.handleUpload(w, r, ident, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, ident domain.Identity, id string) {
	if s.uploadLimiter != nil && !s.uploadLimiter.Allow(ident.Email) {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	created, err := s.app.UploadFile(r.Context(), file, id, header.Filename, contentType, header.Size, ident)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request, ident domain.Identity, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.AddMember(r.Context(), id, req.Email, ident.Email); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) handleMemberByEmail(w http.ResponseWriter, r *http.Request, ident domain.Identity, id, email string) {
	switch r.Method {
	case http.MethodPut:
		var req roleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.app.UpdateMemberRole(r.Context(), id, email, req.Role, ident.Email); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case http.MethodDelete:
		if err := s.app.RemoveMember(r.Context(), id, email, ident.Email); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		methodNotAllowed(w)
	}
}

// /api/files/{fileId}
func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request, ident domain.Identity) {
	id := strings.TrimPrefix(r.URL.Path, "/api/files/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleDownload(w, r, ident, id)
	case http.MethodDelete:
		if err := s.app.DeleteFile(r.Context(), id, ident.Email); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, ident domain.Identity, id string) {
	stream, file, err := s.app.DownloadFile(r.Context(), id, ident.Email)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer stream.Close()
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalFilename))
	if _, err := io.Copy(w, stream); err != nil {
		// Headers are already out; nothing to do but drop the connection.
		util.LoggerFromContext(r.Context()).Error("stream file", "file_id", id, "err", err)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrInvalidArgument), errors.Is(err, app.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
