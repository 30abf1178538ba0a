package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentextraction/internal/api"
	"github.com/Lllllllleong/documentextraction/internal/gcp"
	"github.com/Lllllllleong/documentextraction/internal/services"
)

var (
	handler *api.Handler
	once    sync.Once
	initErr error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "ExtractDocument" is the entry point name configured in GCP.
	functions.HTTP("ExtractDocument", extractDocument)
}

// main runs the function locally; in GCP the framework calls the registered entry point.
func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		log.Fatalf("funcframework.Start: %v", err)
	}
}

func extractDocument(w http.ResponseWriter, r *http.Request) {
	// Use sync.Once for one-time initialization of clients.
	once.Do(func() {
		handler, initErr = newHandler(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: extractor initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}

func newHandler(ctx context.Context) (*api.Handler, error) {
	cfg, err := services.LoadExtractorConfig()
	if err != nil {
		return nil, err
	}
	svc, err := services.NewDocumentServiceFromConfig(ctx, cfg, slog.Default())
	if err != nil {
		return nil, err
	}
	slog.Info("Document extractor initialized.", "docTypes", svc.Registry().DocumentTypes())
	return api.NewHandler(svc, cfg.MaxUploadBytes, slog.Default()), nil
}
