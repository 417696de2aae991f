package routing

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// fileMode is the routing file's permission; the simulator may run as another user.
const fileMode fs.FileMode = 0o644

// FileStore persists the table as a JSON or YAML document. The format is
// chosen from the file extension (.yaml/.yml → YAML, anything else → JSON).
type FileStore struct {
	path string
	yaml bool

	mu    sync.RWMutex
	reads singleflight.Group
}

// NewFileStore opens path, writing the default table if the file is absent.
func NewFileStore(path string) (*FileStore, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s := &FileStore{path: path, yaml: ext == ".yaml" || ext == ".yml"}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(model.DefaultRoutingTable()); err != nil {
			return nil, err
		}
		zap.L().Info("routing: created default routing file", zap.String("path", path))
	} else if err != nil {
		return nil, eris.Wrapf(err, "routing: stat %s", path)
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Table(ctx context.Context) (model.RoutingTable, error) {
	v, err, _ := s.reads.Do("table", func() (any, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.read()
	})
	if err != nil {
		return nil, err
	}
	return v.(model.RoutingTable).Clone(), nil
}

func (s *FileStore) Resolve(ctx context.Context, region string) (string, error) {
	t, err := s.Table(ctx)
	if err != nil {
		return "", err
	}
	return t.Resolve(region), nil
}

// Set performs a serialized read-modify-write of the routing file.
func (s *FileStore) Set(ctx context.Context, region, gateway string) (string, error) {
	if err := validateRoute(region, gateway); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "routing: set")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.read()
	if err != nil {
		return "", err
	}
	prev := table[region]
	table[region] = gateway
	if err := s.write(table); err != nil {
		return "", err
	}
	// Readers arriving after the write must not join a read that began before it.
	s.reads.Forget("table")
	return prev, nil
}

func (s *FileStore) read() (model.RoutingTable, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "routing: read %s", s.path)
	}
	table := model.RoutingTable{}
	if s.yaml {
		err = yaml.Unmarshal(data, &table)
	} else {
		err = json.Unmarshal(data, &table)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "routing: decode %s", s.path)
	}
	return table, nil
}

// write replaces the file atomically so the simulator never reads a torn document.
func (s *FileStore) write(table model.RoutingTable) error {
	var (
		data []byte
		err  error
	)
	if s.yaml {
		data, err = yaml.Marshal(map[string]string(table))
	} else {
		data, err = json.MarshalIndent(table, "", "    ")
	}
	if err != nil {
		return eris.Wrap(err, "routing: encode table")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".routing-*")
	if err != nil {
		return eris.Wrap(err, "routing: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "routing: chmod temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "routing: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "routing: close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return eris.Wrapf(err, "routing: replace %s", s.path)
	}
	return nil
}
