package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/pdfmerge/internal/gcp"
	"github.com/Lllllllleong/pdfmerge/internal/ingest"
	"github.com/Lllllllleong/pdfmerge/internal/merge"
	"github.com/Lllllllleong/pdfmerge/internal/models"
	"github.com/Lllllllleong/pdfmerge/internal/session"
)

// ErrBatchRejected is returned when ingestion leaves nothing to merge, or
// leaves failures and the request did not allow a partial merge.
var ErrBatchRejected = errors.New("batch rejected")

// ErrInvalidRequest is returned for requests that cannot be processed.
var ErrInvalidRequest = errors.New("invalid merge request")

type MergerConfig struct {
	ProjectID        string
	MergedBucket     string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
	Concurrency      int
}

type MergerFunction struct {
	storageClient    *storage.Client
	firestoreClient  *firestore.Client
	executionsClient *executions.Client
	pipeline         *ingest.Pipeline
	merger           *merge.Merger
	config           MergerConfig
}

// GCSEvent is the payload of a GCS object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func loadMergerConfig() (MergerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return MergerConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	concurrency, err := strconv.Atoi(gcp.GetEnv("MERGE_CONCURRENCY", "1"))
	if err != nil || concurrency < 1 {
		return MergerConfig{}, fmt.Errorf("MERGE_CONCURRENCY must be a positive integer")
	}

	config := MergerConfig{
		ProjectID:        projectID,
		MergedBucket:     gcp.GetEnv("MERGED_BUCKET", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "merge_jobs"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		Concurrency:      concurrency,
	}
	if config.MergedBucket == "" {
		return MergerConfig{}, fmt.Errorf("MERGED_BUCKET environment variable must be set")
	}
	return config, nil
}

func NewMerger(ctx context.Context) (*MergerFunction, error) {
	config, err := loadMergerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	var executionsClient *executions.Client
	if config.WorkflowID != "" {
		executionsClient, err = executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
	}

	f := &MergerFunction{
		storageClient:    storageClient,
		firestoreClient:  firestoreClient,
		executionsClient: executionsClient,
		pipeline:         ingest.NewDefaultPipeline(slog.Default()),
		merger:           merge.New(slog.Default()),
		config:           config,
	}
	slog.Info("PDF Merger logic initialized.", "mergedBucket", config.MergedBucket, "workflowId", config.WorkflowID, "concurrency", config.Concurrency)
	return f, nil
}

// ProcessManifest handles a GCS event for a manifest object holding a
// MergeRequest. Objects that are not JSON manifests are ignored.
func (f *MergerFunction) ProcessManifest(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.HasSuffix(e.Name, ".json") {
		logCtx.Info("Object is not a merge manifest. Skipping.")
		return nil
	}

	data, err := gcp.ReadObject(ctx, f.storageClient, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to read manifest", "error", err)
		return err
	}
	var req models.MergeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logCtx.Error("Failed to decode manifest", "error", err)
		return fmt.Errorf("failed to decode manifest %s: %w", e.Name, err)
	}
	if req.Bucket == "" {
		req.Bucket = e.Bucket
	}
	if req.OutputName == "" {
		req.OutputName = strings.TrimSuffix(path.Base(e.Name), ".json") + ".pdf"
	}

	res, err := f.Process(ctx, &req)
	if err != nil {
		return err
	}
	logCtx.Info("Manifest processed.", "status", res.Status, "jobId", res.JobID)
	return nil
}

// Process downloads a batch, ingests it, merges the accepted documents and
// uploads the result.
func (f *MergerFunction) Process(ctx context.Context, req *models.MergeRequest) (*models.MergeResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	outputName := outputObjectName(req)
	batchID := uuid.NewString()
	logCtx := slog.With("batchId", batchID, "gcsBucket", req.Bucket, "objectCount", len(req.Objects), "outputObject", outputName)
	if req.ExecutionID != "" {
		logCtx = logCtx.With("executionId", req.ExecutionID)
	}
	logCtx.Info("Processing merge request.")

	tempDir, err := os.MkdirTemp("", "pdf-merger-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPaths, err := f.downloadBatch(ctx, logCtx, req.Bucket, req.Objects, tempDir)
	if err != nil {
		logCtx.Error("Failed to download batch", "error", err)
		return nil, err
	}

	hash, err := batchHash(localPaths, outputName, req.AllowPartial)
	if err != nil {
		logCtx.Error("Failed to calculate batch hash", "error", err)
		return nil, fmt.Errorf("failed to calculate batch hash: %w", err)
	}
	logCtx = logCtx.With("batchHash", hash)

	previous, err := gcp.FindAll(ctx, f.firestoreClient, f.config.CollectionName, "batchHash", hash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}
	for _, job := range previous {
		status, _ := job.Data()["status"].(string)
		if !isLiveStatus(status) {
			continue
		}
		logCtx.Info("Duplicate batch detected. Skipping.", "existingJobId", job.Ref.ID, "existingStatus", status)
		return &models.MergeResponse{Status: models.ResponseDuplicate, JobID: job.Ref.ID}, nil
	}
	if len(previous) > 0 {
		logCtx.Info("Retrying batch after failed attempts.", "failedAttempts", len(previous))
	}

	docRef, err := f.createJob(ctx, hash, req, outputName)
	if err != nil {
		logCtx.Error("Failed to create merge job in Firestore", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("jobId", docRef.ID)
	logCtx.Info("Created merge job in Firestore.")

	sess := session.New(f.ingester(), f.merger)
	validity := sess.Open(localPaths)
	res := summarize(docRef.ID, sess, req.Objects)
	logCtx.Info("Batch ingested.", "validity", validity.String(), "documents", res.Documents, "recovered", res.Recovered, "failures", res.Failures)

	if err := f.recordIngestion(ctx, docRef, res, validity, req.AllowPartial); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to record ingestion", err)
	}
	if rejectErr := rejection(res, validity, req.AllowPartial); rejectErr != nil {
		res.Status = models.ResponseRejected
		return res, f.handleError(ctx, logCtx, docRef, "batch rejected", rejectErr)
	}

	mergedPath := filepath.Join(tempDir, "merged.pdf")
	if err := sess.Merge(mergedPath); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to merge documents", err)
	}

	if err := f.uploadFile(ctx, mergedPath, outputName); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to upload merged PDF", err)
	}
	res.OutputGCSUri = fmt.Sprintf("gs://%s/%s", f.config.MergedBucket, outputName)

	updates := []firestore.Update{
		{Path: "status", Value: models.StatusMerged},
		{Path: "outputObject", Value: outputName},
	}
	if executionName, err := f.triggerWorkflow(ctx, logCtx, docRef, res); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to trigger workflow execution", err)
	} else if executionName != "" {
		updates = append(updates, firestore.Update{Path: "workflowExecutionId", Value: executionName})
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to update status to MERGED", err)
	}

	res.Status = models.ResponseMerged
	logCtx.Info("Merge complete.", "outputGcsUri", res.OutputGCSUri)
	return res, nil
}

func (f *MergerFunction) ingester() session.Ingester {
	if f.config.Concurrency > 1 {
		return f.pipeline.Parallel(f.config.Concurrency)
	}
	return f.pipeline
}

// downloadBatch fetches every object into its own slot so local paths keep
// request order regardless of completion order.
func (f *MergerFunction) downloadBatch(ctx context.Context, logCtx *slog.Logger, bucket string, objects []string, dir string) ([]string, error) {
	logCtx.Info("Starting concurrent download of batch.")
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)

	localPaths := make([]string, len(objects))
	for i, object := range objects {
		localPaths[i] = filepath.Join(dir, localName(i, object))
		eg.Go(func() error {
			if err := f.downloadFile(gctx, bucket, object, localPaths[i]); err != nil {
				return fmt.Errorf("object %d (%s): %w", i, object, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("one or more objects failed to download: %w", err)
	}
	logCtx.Info("All objects downloaded successfully.")
	return localPaths, nil
}

func (f *MergerFunction) downloadFile(ctx context.Context, bucket, object, destPath string) error {
	return withRetry(ctx, "download", object, func(ctx context.Context) error {
		return gcp.DownloadObject(ctx, f.storageClient, bucket, object, destPath)
	})
}

func (f *MergerFunction) uploadFile(ctx context.Context, localPath, destObject string) error {
	return withRetry(ctx, "upload", destObject, func(ctx context.Context) error {
		localFileReader, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("could not open local file %s: %w", localPath, err)
		}
		defer localFileReader.Close()

		writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
		defer cancel()

		created, err := gcp.SaveToGCSAtomically(writeCtx, f.storageClient.Bucket(f.config.MergedBucket), destObject, localFileReader)
		if err != nil {
			return err
		}
		if !created {
			slog.Info("Merged output already present.", "gcsObject", destObject)
		}
		return nil
	})
}

// withRetry runs op up to four times with a doubling backoff.
func withRetry(ctx context.Context, action, object string, op func(context.Context) error) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := op(ctx)
		if err == nil {
			return nil // Success!
		}

		lastErr = err
		slog.Warn(
			"GCS operation failed, will retry.",
			"action", action,
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("GCS operation failed after all retries.", "action", action, "gcsObject", object, "error", lastErr)
	return fmt.Errorf("%s for %s failed after all retries: %w", action, object, lastErr)
}

func (f *MergerFunction) createJob(ctx context.Context, hash string, req *models.MergeRequest, outputName string) (*firestore.DocumentRef, error) {
	newJob := models.MergeJob{
		BatchHash:    hash,
		SourceBucket: req.Bucket,
		Objects:      req.Objects,
		OutputObject: outputName,
		Status:       models.StatusIngesting,
		InputCount:   len(req.Objects),
		CreatedAt:    time.Now(),
	}
	docRef, _, err := f.firestoreClient.Collection(f.config.CollectionName).Add(ctx, newJob)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge job: %w", err)
	}
	return docRef, nil
}

func (f *MergerFunction) recordIngestion(ctx context.Context, docRef *firestore.DocumentRef, res *models.MergeResponse, validity session.Validity, allowPartial bool) error {
	status := models.StatusMerging
	if rejection(res, validity, allowPartial) != nil {
		status = models.StatusFailed
	}
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "documentCount", Value: res.Documents},
		{Path: "recoveredCount", Value: res.Recovered},
		{Path: "failureCount", Value: res.Failures},
		{Path: "pageCount", Value: res.Pages},
		{Path: "failures", Value: res.Rejected},
	}
	_, err := docRef.Update(ctx, updates)
	return err
}

func (f *MergerFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, res *models.MergeResponse) (string, error) {
	if f.executionsClient == nil {
		return "", nil
	}
	logCtx.Info("Triggering workflow.")
	payload := map[string]interface{}{
		"jobId":        docRef.ID,
		"outputGcsUri": res.OutputGCSUri,
		"pageCount":    res.Pages,
	}
	parent := gcp.WorkflowParent(f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID)
	return gcp.TriggerWorkflow(ctx, f.executionsClient, parent, payload)
}

func (f *MergerFunction) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	updates := []firestore.Update{
		{Path: "status", Value: models.StatusFailed},
		{Path: "errorDetails", Value: fmt.Sprintf("%s: %v", message, originalErr)},
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// summarize maps the session state back onto the request's object names.
func summarize(jobID string, sess *session.Session, objects []string) *models.MergeResponse {
	res := &models.MergeResponse{JobID: jobID, Failures: sess.Failures()}
	for _, d := range sess.CurrentDocuments() {
		res.Documents++
		res.Pages += d.Pages
		if d.Recovered {
			res.Recovered++
		}
	}
	for _, o := range sess.Outcomes() {
		if o.Accepted() {
			continue
		}
		res.Rejected = append(res.Rejected, models.InputFailure{
			Object: objects[o.Index],
			State:  o.Final().String(),
			Error:  errorString(o.Err),
		})
	}
	if msg, ok := sess.LastErrorMessage(); ok {
		res.LastError = msg
	}
	return res
}

func rejection(res *models.MergeResponse, validity session.Validity, allowPartial bool) error {
	if res.Documents == 0 {
		return fmt.Errorf("%w: no input could be ingested (last error: %s)", ErrBatchRejected, res.LastError)
	}
	if validity == session.SomeInvalid && !allowPartial {
		return fmt.Errorf("%w: %d of %d inputs failed (last error: %s)", ErrBatchRejected, res.Failures, res.Failures+res.Documents, res.LastError)
	}
	return nil
}

func validateRequest(req *models.MergeRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	if req.Bucket == "" {
		return fmt.Errorf("%w: bucket must be set", ErrInvalidRequest)
	}
	if len(req.Objects) == 0 {
		return fmt.Errorf("%w: at least one object is required", ErrInvalidRequest)
	}
	for i, o := range req.Objects {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: object %d has an empty name", ErrInvalidRequest, i)
		}
	}
	if strings.Contains(req.OutputName, "..") {
		return fmt.Errorf("%w: output name %q is not allowed", ErrInvalidRequest, req.OutputName)
	}
	return nil
}

func outputObjectName(req *models.MergeRequest) string {
	if req.OutputName != "" {
		return strings.TrimPrefix(req.OutputName, "/")
	}
	base := strings.TrimSuffix(path.Base(req.Objects[0]), path.Ext(req.Objects[0]))
	return fmt.Sprintf("merged/%s-%d.pdf", base, len(req.Objects))
}

// localName keeps the request index in front so names never collide.
func localName(index int, object string) string {
	return fmt.Sprintf("%05d-%s", index, path.Base(object))
}

// isLiveStatus reports whether a job with this status makes a new
// submission of the same batch a duplicate. FAILED jobs never do.
func isLiveStatus(status string) bool {
	switch status {
	case models.StatusIngesting, models.StatusMerging, models.StatusMerged:
		return true
	default:
		return false
	}
}

// batchHash identifies a batch by the ordered hashes of its inputs, its
// output name and whether a partial merge is allowed.
func batchHash(localPaths []string, outputName string, allowPartial bool) (string, error) {
	hash := sha256.New()
	for _, p := range localPaths {
		fileHash, err := calculateFileHash(p)
		if err != nil {
			return "", err
		}
		io.WriteString(hash, fileHash)
		io.WriteString(hash, "\n")
	}
	io.WriteString(hash, outputName)
	io.WriteString(hash, "\n"+strconv.FormatBool(allowPartial))
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
