package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/hybrid"
)

const archivePrefix = "quantopt-run-"

// ArchiveService uploads completed run exports to S3-compatible storage.
type ArchiveService struct {
	s3      *S3Client
	runs    *hybrid.Repository
	dataDir string
	log     zerolog.Logger
}

// ArchiveMetadata describes the contents of one run archive.
type ArchiveMetadata struct {
	RunID       string         `json:"run_id"`
	ProblemName string         `json:"problem_name"`
	ArchivedAt  time.Time      `json:"archived_at"`
	Files       []FileMetadata `json:"files"`
}

// FileMetadata describes a single file inside an archive.
type FileMetadata struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// ArchiveInfo represents one archive stored remotely.
type ArchiveInfo struct {
	Key       string    `json:"key"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewArchiveService creates a new run archive service.
func NewArchiveService(s3 *S3Client, runs *hybrid.Repository, dataDir string, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		s3:      s3,
		runs:    runs,
		dataDir: dataDir,
		log:     log.With().Str("service", "archive").Logger(),
	}
}

// ArchivePending uploads every completed run that has no archive yet and
// returns the number of runs archived.
func (s *ArchiveService) ArchivePending(ctx context.Context) (int, error) {
	archived, err := s.archivedRunIDs(ctx)
	if err != nil {
		return 0, err
	}

	runs, err := s.runs.ListRuns("", 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs: %w", err)
	}

	count := 0
	for _, run := range runs {
		if run.Status != hybrid.StatusCompleted || archived[run.ID] {
			continue
		}
		if err := s.ArchiveRun(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to archive run")
			continue
		}
		count++
	}
	return count, nil
}

// ArchiveRun packages a run's epoch exports into a tar.gz and uploads it.
func (s *ArchiveService) ArchiveRun(ctx context.Context, run *hybrid.Run) error {
	s.log.Info().Str("run_id", run.ID).Msg("Archiving run")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{
		RunID:       run.ID,
		ProblemName: run.ProblemName,
		ArchivedAt:  time.Now().UTC(),
	}

	filenames := make([]string, 0, run.Config.NumExec+1)
	for exec := 0; exec < run.Config.NumExec; exec++ {
		records, err := s.runs.ExportRecords(run.ID, exec)
		if err != nil {
			return fmt.Errorf("failed to export exec %d: %w", exec, err)
		}
		filename := fmt.Sprintf("export-exec%d.json", exec)
		path := filepath.Join(stagingDir, filename)
		if err := writeJSONFile(path, records); err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", filename, err)
		}
		checksum, err := s.calculateChecksum(path)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", filename, err)
		}
		metadata.Files = append(metadata.Files, FileMetadata{
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		filenames = append(filenames, filename)
	}

	metadataName := "archive-metadata.json"
	if err := writeJSONFile(filepath.Join(stagingDir, metadataName), metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	filenames = append(filenames, metadataName)

	timestamp := time.Now().Format("20060102-150405")
	archiveName := fmt.Sprintf("%s%s-%s.tar.gz", archivePrefix, run.ID, timestamp)
	archivePath := filepath.Join(stagingDir, archiveName)

	if err := s.createArchive(archivePath, stagingDir, filenames); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.s3.Upload(ctx, archiveName, archiveFile); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Msg("Run archived")
	return nil
}

// ListArchives lists all run archives stored remotely, newest first.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.s3.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		key := *obj.Key
		runID, timestamp, ok := parseArchiveKey(key)
		if !ok {
			s.log.Warn().Str("key", key).Msg("Unrecognized archive key")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}
		archives = append(archives, ArchiveInfo{
			Key:       key,
			RunID:     runID,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// RotateOldArchives deletes archives older than the retention period.
// Keeps a minimum of 3 archives regardless of age.
func (s *ArchiveService) RotateOldArchives(ctx context.Context, retentionDays int) error {
	archives, err := s.ListArchives(ctx)
	if err != nil {
		return err
	}

	const minArchivesToKeep = 3
	if len(archives) <= minArchivesToKeep {
		return nil
	}

	var cutoffTime time.Time
	if retentionDays > 0 {
		cutoffTime = time.Now().AddDate(0, 0, -retentionDays)
	}

	deletedCount := 0
	for i, archive := range archives {
		if i < minArchivesToKeep || retentionDays == 0 {
			continue
		}
		if archive.Timestamp.Before(cutoffTime) {
			if err := s.s3.Delete(ctx, archive.Key); err != nil {
				s.log.Error().Err(err).Str("key", archive.Key).Msg("Failed to delete old archive")
				continue
			}
			s.log.Info().Str("key", archive.Key).Msg("Deleted old archive")
			deletedCount++
		}
	}

	s.log.Info().
		Int("deleted", deletedCount).
		Int("remaining", len(archives)-deletedCount).
		Msg("Archive rotation completed")
	return nil
}

// archivedRunIDs returns the run IDs that already have at least one archive.
func (s *ArchiveService) archivedRunIDs(ctx context.Context) (map[string]bool, error) {
	archives, err := s.ListArchives(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(archives))
	for _, a := range archives {
		ids[a.RunID] = true
	}
	return ids, nil
}

// parseArchiveKey splits "quantopt-run-<id>-<20060102-150405>.tar.gz" into
// run ID and timestamp.
func parseArchiveKey(key string) (string, time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return "", time.Time{}, false
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")

	const tsLen = len("20060102-150405")
	if len(stem) < tsLen+2 {
		return "", time.Time{}, false
	}
	runID := stem[:len(stem)-tsLen-1]
	timestamp, err := time.Parse("20060102-150405", stem[len(stem)-tsLen:])
	if err != nil {
		return "", time.Time{}, false
	}
	return runID, timestamp, true
}

func (s *ArchiveService) calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeJSONFile(path string, payload interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

// createArchive creates a tar.gz archive of the named staging files.
func (s *ArchiveService) createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := s.addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

func (s *ArchiveService) addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
