package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// RemoteCache is an optional shared tier for compiled plans, keyed by build
// target and model content fingerprint.
type RemoteCache interface {
	Fetch(ctx context.Context, target, fingerprint string) ([]byte, bool)
	Publish(ctx context.Context, target, fingerprint string, plan []byte)
}

// Store returns the on-disk compiled engine for a model, building it on a miss.
//
// Ensure is not guarded against concurrent first builds for the same model:
// two callers may both build, and the last rename wins. Callers that need
// at-most-once builds serialize Ensure per model path.
type Store struct {
	builder       Builder
	opts          BuildOptions
	remote        RemoteCache
	validate      func(plan []byte) error
	rebuildStale  bool
	cacheTotal    *prometheus.CounterVec
	buildDuration prometheus.Observer
	logger        *zap.Logger

	persist func(path string, data []byte) error
}

// NewStore creates an engine store.
// cacheTotal is a counter vec with label "result"; buildDuration may be nil.
func NewStore(
	builder Builder,
	opts BuildOptions,
	cacheTotal *prometheus.CounterVec,
	buildDuration prometheus.Observer,
	logger *zap.Logger,
) *Store {
	return &Store{
		builder:       builder,
		opts:          opts,
		cacheTotal:    cacheTotal,
		buildDuration: buildDuration,
		logger:        logger,
		persist:       writeAtomic,
	}
}

// WithRemote attaches a shared plan cache consulted before building.
func (s *Store) WithRemote(remote RemoteCache) *Store {
	s.remote = remote
	return s
}

// WithPlanValidator sets a check run on plans fetched from the remote tier
// before they are persisted. A plan that fails it is discarded and rebuilt.
func (s *Store) WithPlanValidator(validate func(plan []byte) error) *Store {
	s.validate = validate
	return s
}

// WithRebuildStale makes Ensure rebuild artifacts older than their model file.
func (s *Store) WithRebuildStale(enabled bool) *Store {
	s.rebuildStale = enabled
	return s
}

// Ensure returns the path of the compiled engine for modelPath, building and
// persisting it if no artifact exists yet.
func (s *Store) Ensure(ctx context.Context, modelPath string) (string, error) {
	if modelPath == "" {
		_, err := ResolvePath(modelPath)
		return "", err
	}

	modelAbs, err := filepath.Abs(modelPath)
	if err != nil {
		return "", fmt.Errorf("%w: absolute path of %s: %v", domain.ErrConfigInvalid, modelPath, err)
	}

	enginePath, err := ResolvePath(modelAbs)
	if err != nil {
		return "", err
	}

	hit, err := s.lookup(modelAbs, enginePath)
	if err != nil {
		return "", err
	}
	if hit {
		s.incCache("hit")
		s.logger.Info("Compiled engine imported", zap.String("path", enginePath))
		return enginePath, nil
	}

	if err := os.MkdirAll(filepath.Dir(enginePath), 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory for %s: %v", domain.ErrEngineIO, enginePath, err)
	}

	plan, err := s.obtain(ctx, modelAbs)
	if err != nil {
		return "", err
	}

	if err := s.persist(enginePath, plan); err != nil {
		return "", err
	}

	s.logger.Info("Compiled engine exported",
		zap.String("path", enginePath),
		zap.Int("bytes", len(plan)),
	)
	return enginePath, nil
}

// lookup reports whether a usable artifact already exists at enginePath.
func (s *Store) lookup(modelAbs, enginePath string) (bool, error) {
	info, err := os.Stat(enginePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", domain.ErrEngineIO, enginePath, err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is not a regular file", domain.ErrEngineIO, enginePath)
	}

	if s.rebuildStale && s.isStale(modelAbs, info) {
		s.incCache("stale")
		s.logger.Warn("Compiled engine is older than its model, rebuilding",
			zap.String("path", enginePath),
			zap.Time("engine_mtime", info.ModTime()),
		)
		return false, nil
	}

	return true, nil
}

func (s *Store) isStale(modelAbs string, engineInfo fs.FileInfo) bool {
	modelInfo, err := os.Stat(modelAbs)
	if err != nil {
		// Missing model: keep serving the artifact we have.
		return false
	}
	return modelInfo.ModTime().After(engineInfo.ModTime())
}

// obtain fetches the plan from the remote tier or builds it.
func (s *Store) obtain(ctx context.Context, modelAbs string) ([]byte, error) {
	if _, err := os.Stat(modelAbs); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelAbs)
	}

	var fingerprint string
	if s.remote != nil {
		fp, err := Fingerprint(modelAbs)
		if err != nil {
			s.logger.Warn("Failed to fingerprint model, skipping remote engine cache",
				zap.String("model", modelAbs), zap.Error(err))
		} else {
			fingerprint = fp
			if plan, ok := s.fetchRemote(ctx, modelAbs, fingerprint); ok {
				return plan, nil
			}
		}
	}

	s.incCache("miss")
	s.logger.Info("Building compiled engine",
		zap.String("model", modelAbs),
		zap.Uint64("workspace_bytes", s.opts.WorkspaceBytes),
		zap.Bool("fast_math", s.opts.FastMath),
	)

	start := time.Now()
	plan, err := s.builder.Build(modelAbs, s.opts)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	duration := time.Since(start)
	if s.buildDuration != nil {
		s.buildDuration.Observe(duration.Seconds())
	}
	s.logger.Info("Compiled engine built",
		zap.String("model", modelAbs),
		zap.Duration("duration", duration),
		zap.Int("bytes", len(plan)),
	)

	if s.remote != nil && fingerprint != "" {
		s.remote.Publish(ctx, s.builder.Target(), fingerprint, plan)
	}

	return plan, nil
}

// fetchRemote returns a validated plan from the remote tier.
func (s *Store) fetchRemote(ctx context.Context, modelAbs, fingerprint string) ([]byte, bool) {
	plan, ok := s.remote.Fetch(ctx, s.builder.Target(), fingerprint)
	if !ok {
		return nil, false
	}
	if s.validate != nil {
		if err := s.validate(plan); err != nil {
			s.incCache("remote_invalid")
			s.logger.Warn("Discarding invalid engine from remote cache",
				zap.String("model", modelAbs),
				zap.String("fingerprint", fingerprint),
				zap.Error(err),
			)
			return nil, false
		}
	}
	s.incCache("remote_hit")
	s.logger.Info("Compiled engine fetched from remote cache",
		zap.String("model", modelAbs),
		zap.String("fingerprint", fingerprint),
	)
	return plan, true
}

func (s *Store) incCache(result string) {
	if s.cacheTotal != nil {
		s.cacheTotal.WithLabelValues(result).Inc()
	}
}

// Fingerprint returns the xxhash64 of a file's contents as 16 hex digits.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// writeAtomic writes data to a temp file next to path and renames it into place,
// so a failed write never leaves a truncated artifact at path.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file for %s: %v", domain.ErrEngineIO, path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrEngineIO, tmpName, err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", domain.ErrEngineIO, tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: flush %s: %v", domain.ErrEngineIO, tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrEngineIO, tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename %s to %s: %v", domain.ErrEngineIO, tmpName, path, err)
	}
	return nil
}
