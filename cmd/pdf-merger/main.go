package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/pdfmerge/internal/models"
	"github.com/Lllllllleong/pdfmerge/internal/services"
)

var (
	mergerInstance *services.MergerFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleMergeBatch", handleMergeBatch)
	functions.CloudEvent("MergeFromManifest", mergeFromManifest)
}

// main is required by the Go Functions Framework.
func main() {}

func initMerger() error {
	once.Do(func() {
		mergerInstance, initErr = services.NewMerger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return initErr
}

// handleMergeBatch merges the objects listed in a JSON MergeRequest.
func handleMergeBatch(w http.ResponseWriter, r *http.Request) {
	if err := initMerger(); err != nil {
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := mergerInstance.Process(r.Context(), &req)
	status := http.StatusOK
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, services.ErrBatchRejected) && res != nil:
		status = http.StatusUnprocessableEntity
	case err != nil:
		// Already logged with context inside Process.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// mergeFromManifest is triggered by a manifest object landing in GCS.
func mergeFromManifest(ctx context.Context, e cloudevents.Event) error {
	if err := initMerger(); err != nil {
		return err
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	err := mergerInstance.ProcessManifest(ctx, gcsEvent)
	if errors.Is(err, services.ErrBatchRejected) || errors.Is(err, services.ErrInvalidRequest) {
		// A rejected manifest will not succeed on redelivery.
		slog.Warn("Manifest rejected", "error", err)
		return nil
	}
	return err
}
