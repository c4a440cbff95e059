package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/pavel-fokin/filekeeper/internal/files"
	"github.com/pavel-fokin/filekeeper/internal/fs"
	"github.com/pavel-fokin/filekeeper/internal/index"
)

type Config struct {
	AdminToken      string        `env:"FILEKEEPER_ADMIN_TOKEN,required"`
	Addr            string        `env:"FILEKEEPER_ADDR" envDefault:":8080"`
	DataDir         string        `env:"FILEKEEPER_DATA_DIR,required"`
	IndexPath       string        `env:"FILEKEEPER_INDEX_PATH,required"`
	MaxUploadSize   int64         `env:"FILEKEEPER_MAX_UPLOAD_SIZE" envDefault:"52428800"`
	MaxFiles        int           `env:"FILEKEEPER_MAX_FILES" envDefault:"500"`
	MaxStorageBytes int64         `env:"FILEKEEPER_MAX_STORAGE_BYTES" envDefault:"1073741824"`
	AutoCleanup     bool          `env:"FILEKEEPER_AUTO_CLEANUP" envDefault:"true"`
	RetentionPeriod time.Duration `env:"FILEKEEPER_RETENTION_PERIOD" envDefault:"720h"`
}

func New(cfg *Config) (*http.Server, error) {
	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	storage, err := fs.NewStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	idx, err := index.New(cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	fileService := files.NewService(storage, idx, files.Config{
		MaxFiles:        cfg.MaxFiles,
		MaxStorageBytes: cfg.MaxStorageBytes,
		AutoCleanup:     cfg.AutoCleanup,
		RetentionPeriod: cfg.RetentionPeriod,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("POST /v1/files", auth(cfg.AdminToken, uploadFile(cfg, fileService)))
	mux.HandleFunc("GET /v1/files", auth(cfg.AdminToken, listFiles(fileService)))
	mux.HandleFunc("GET /v1/files/{id}", auth(cfg.AdminToken, downloadFile(fileService)))
	mux.HandleFunc("DELETE /v1/files/{id}", auth(cfg.AdminToken, deleteFile(fileService)))
	mux.HandleFunc("DELETE /v1/files", auth(cfg.AdminToken, clearAll(fileService)))
	mux.HandleFunc("GET /v1/storage", auth(cfg.AdminToken, storageInfo(fileService)))
	mux.HandleFunc("POST /v1/cleanup", auth(cfg.AdminToken, cleanup(fileService)))

	handler := loggingMiddleware(limitBody(mux, cfg.MaxUploadSize))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}, nil
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func uploadFile(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(cfg.MaxUploadSize); err != nil {
			http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "No file provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Failed to read file", http.StatusBadRequest)
			return
		}

		var details json.RawMessage
		if raw := r.FormValue("processing_details"); raw != "" {
			if !json.Valid([]byte(raw)) {
				http.Error(w, "processing_details must be valid JSON", http.StatusBadRequest)
				return
			}
			details = json.RawMessage(raw)
		}

		name := r.FormValue("name")
		if name == "" {
			name = header.Filename
		}

		result, err := fileService.StoreFile(&files.StoreRequest{
			Name:              name,
			MimeType:          header.Header.Get("Content-Type"),
			Category:          files.Category(r.FormValue("category")),
			ProcessingDetails: details,
			Content:           content,
		})
		if err != nil {
			slog.Error("Upload failed", "error", err, "filename", header.Filename)
			writeError(w, err, "Upload failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}

func downloadFile(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		file, content, err := fileService.GetFile(id)
		if err != nil {
			slog.Error("Download failed", "error", err, "file_id", id)
			writeError(w, err, "Download failed")
			return
		}

		w.Header().Set("Content-Type", file.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", file.Size))
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}
}

func deleteFile(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		existed, err := fileService.DeleteFile(id)
		if err != nil {
			slog.Error("Delete failed", "error", err, "file_id", id)
			http.Error(w, "Delete failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]bool{"existed": existed})
	}
}

func listFiles(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		category := files.Category(q.Get("category"))
		if category != "" && !category.Valid() {
			http.Error(w, "Unknown category", http.StatusBadRequest)
			return
		}

		result := fileService.ListFiles(files.ListOptions{
			Category: category,
			Search:   q.Get("search"),
			SortBy:   files.SortKey(q.Get("sort")),
			Order:    files.SortOrder(q.Get("order")),
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			slog.Error("Failed to encode files list", "error", err)
		}
	}
}

func storageInfo(fileService *files.Service) http.HandlerFunc {
	type response struct {
		files.StorageInfo
		TotalSizeHuman string `json:"total_size_human"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		info := fileService.StorageInfo()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response{
			StorageInfo:    info,
			TotalSizeHuman: humanize.Bytes(uint64(info.TotalSize)),
		})
	}
}

func cleanup(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fileService.Cleanup(); err != nil {
			slog.Error("Cleanup failed", "error", err)
			http.Error(w, "Cleanup failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clearAll(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fileService.ClearAll(); err != nil {
			slog.Error("Clear failed", "error", err)
			http.Error(w, "Clear failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, files.ErrNotFound), errors.Is(err, files.ErrContentMissing):
		http.Error(w, "File not found", http.StatusNotFound)
	case errors.Is(err, files.ErrInvalidCategory):
		http.Error(w, "Unknown category", http.StatusBadRequest)
	default:
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func auth(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func limitBody(next http.Handler, maxSize int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests with structured logging.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		slog.Info("HTTP request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
