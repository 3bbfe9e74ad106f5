package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/arclab/arcq/internal/database"
	"github.com/arclab/arcq/internal/version"
)

const (
	archivePrefix     = "arcq-archive-"
	archiveTimeFormat = "2006-01-02-150405"
	// Never rotate below this many archives regardless of the keep setting.
	minArchivesToKeep = 3
)

// Storage is the object store surface the service needs.
type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// RunCounter reports how many runs the results ledger holds.
type RunCounter interface {
	CountRuns() (int, error)
}

// FileInfo describes one file inside an archive.
type FileInfo struct {
	Name      string `msgpack:"name" json:"name"`
	SizeBytes int64  `msgpack:"size_bytes" json:"size_bytes"`
	Checksum  string `msgpack:"checksum" json:"checksum"`
}

// Manifest is the msgpack-encoded archive description.
type Manifest struct {
	CreatedAt time.Time  `msgpack:"created_at" json:"created_at"`
	Version   string     `msgpack:"version" json:"version"`
	Runs      int        `msgpack:"runs" json:"runs"`
	Files     []FileInfo `msgpack:"files" json:"files"`
}

// Service creates and rotates results archives.
type Service struct {
	resultsDB *database.DB
	counter   RunCounter
	storage   Storage
	dataDir   string
	keep      int
	log       zerolog.Logger
}

// NewService creates the archive service. keep is the number of archives
// retained during rotation.
func NewService(resultsDB *database.DB, counter RunCounter, storage Storage, dataDir string, keep int, log zerolog.Logger) *Service {
	if keep < minArchivesToKeep {
		keep = minArchivesToKeep
	}
	return &Service{
		resultsDB: resultsDB,
		counter:   counter,
		storage:   storage,
		dataDir:   dataDir,
		keep:      keep,
		log:       log.With().Str("service", "archive").Logger(),
	}
}

// Upload snapshots results.db, packages it with a manifest, and uploads the
// tar.gz. Returns the object key.
func (s *Service) Upload(ctx context.Context) (string, error) {
	started := time.Now()

	staging := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	// VACUUM INTO takes a consistent online snapshot without blocking
	// writers.
	snapshotPath := filepath.Join(staging, "results.db")
	if _, err := s.resultsDB.Exec("VACUUM INTO ?", snapshotPath); err != nil {
		return "", fmt.Errorf("failed to snapshot results database: %w", err)
	}

	if err := verifySnapshot(ctx, snapshotPath); err != nil {
		return "", err
	}

	info, err := os.Stat(snapshotPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := fileChecksum(snapshotPath)
	if err != nil {
		return "", fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	runs := 0
	if s.counter != nil {
		if runs, err = s.counter.CountRuns(); err != nil {
			return "", fmt.Errorf("failed to count runs: %w", err)
		}
	}

	manifest := Manifest{
		CreatedAt: time.Now().UTC(),
		Version:   version.Version,
		Runs:      runs,
		Files: []FileInfo{{
			Name:      "results.db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		}},
	}
	manifestPath := filepath.Join(staging, "manifest.msgpack")
	manifestBytes, err := msgpack.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, manifestBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	key := archivePrefix + time.Now().UTC().Format(archiveTimeFormat) + ".tar.gz"
	archivePath := filepath.Join(staging, key)
	if err := createTarGz(archivePath, []string{snapshotPath, manifestPath}); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.storage.Upload(ctx, key, archiveFile); err != nil {
		return "", err
	}

	archiveInfo, _ := os.Stat(archivePath)
	s.log.Info().
		Str("key", key).
		Int("runs", runs).
		Int64("size_bytes", archiveInfo.Size()).
		Dur("duration", time.Since(started)).
		Msg("Archive uploaded")

	return key, nil
}

// Rotate deletes archives beyond the retention count, newest kept first.
// Returns the number deleted.
func (s *Service) Rotate(ctx context.Context) (int, error) {
	objects, err := s.storage.List(ctx, archivePrefix)
	if err != nil {
		return 0, err
	}

	type stamped struct {
		key string
		ts  time.Time
	}
	var archives []stamped
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		ts, err := time.Parse(archiveTimeFormat, raw)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping archive with unparseable timestamp")
			continue
		}
		archives = append(archives, stamped{key: obj.Key, ts: ts})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].ts.After(archives[j].ts)
	})

	deleted := 0
	for i := s.keep; i < len(archives); i++ {
		if err := s.storage.Delete(ctx, archives[i].key); err != nil {
			s.log.Error().Err(err).Str("key", archives[i].key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// verifySnapshot runs an integrity check on the snapshot before it is
// archived. A corrupt archive of irreplaceable hardware results is worse
// than a failed upload.
func verifySnapshot(ctx context.Context, path string) error {
	snapshot, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    "snapshot",
	})
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer snapshot.Close()

	if err := snapshot.HealthCheck(ctx); err != nil {
		return fmt.Errorf("snapshot failed integrity check: %w", err)
	}
	return nil
}

// fileChecksum returns the sha256 of a file.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
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

// createTarGz packs files (flattened to basenames) into a tar.gz.
func createTarGz(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()
	tw := tar.NewWriter(gzw)
	defer tw.Close()

	for _, path := range files {
		if err := addFile(tw, path); err != nil {
			return fmt.Errorf("failed to add %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}
