package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/payops-sentinel/internal/model"
)

func TestMemoryStore_SetAndResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore(nil)
	gw, err := s.Resolve(ctx, "UK")
	require.NoError(t, err)
	assert.Equal(t, "stripe", gw)

	prev, err := s.Set(ctx, "UK", "adyen")
	require.NoError(t, err)
	assert.Equal(t, "stripe", prev)

	gw, err = s.Resolve(ctx, "UK")
	require.NoError(t, err)
	assert.Equal(t, "adyen", gw)

	gw, err = s.Resolve(ctx, "BR")
	require.NoError(t, err)
	assert.Equal(t, "stripe", gw, "unknown region falls back to global_default")
}

func TestMemoryStore_TableIsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore(model.RoutingTable{"UK": "stripe"})
	tbl, err := s.Table(ctx)
	require.NoError(t, err)
	tbl["UK"] = "adyen"

	gw, _ := s.Resolve(ctx, "UK")
	assert.Equal(t, "stripe", gw)
}

func TestMemoryStore_RejectsBlank(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	_, err := s.Set(context.Background(), "", "adyen")
	assert.ErrorIs(t, err, ErrInvalidRoute)
	_, err = s.Set(context.Background(), "UK", " ")
	assert.ErrorIs(t, err, ErrInvalidRoute)
}

func TestFileStore_CreatesDefaultJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routing_config.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]string
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, map[string]string(model.DefaultRoutingTable()), onDisk)
}

func TestFileStore_KeepsExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routing_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"UK":"adyen","global_default":"stripe"}`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	gw, err := s.Resolve(context.Background(), "UK")
	require.NoError(t, err)
	assert.Equal(t, "adyen", gw)
}

func TestFileStore_SetPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "routing_config.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	prev, err := s.Set(ctx, "UK", "adyen")
	require.NoError(t, err)
	assert.Equal(t, "stripe", prev)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	tbl, err := reopened.Table(ctx)
	require.NoError(t, err)
	assert.Equal(t, "adyen", tbl["UK"])
	assert.Equal(t, "adyen", tbl["EU"])
	assert.Equal(t, "stripe", tbl[model.GlobalDefaultKey])
}

func TestFileStore_ReadableMode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routing_config.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	_, err = s.Set(context.Background(), "UK", "adyen")
	require.NoError(t, err)
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestFileStore_TableSeesSetUnderConcurrentReads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := NewFileStore(filepath.Join(t.TempDir(), "routing_config.json"))
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = s.Table(ctx)
				}
			}
		}()
	}

	gateways := []string{"adyen", "stripe"}
	for i := 0; i < 50; i++ {
		want := gateways[i%2]
		_, err := s.Set(ctx, "UK", want)
		require.NoError(t, err)
		tbl, err := s.Table(ctx)
		require.NoError(t, err)
		require.Equal(t, want, tbl["UK"], "iteration %d", i)
	}
	close(stop)
	wg.Wait()
}

func TestFileStore_YAML(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "routing.yaml")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = s.Set(ctx, "IN", "adyen")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]string
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, "adyen", onDisk["IN"])
}

func TestFileStore_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routing_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = s.Table(context.Background())
	assert.Error(t, err)
	_, err = s.Set(context.Background(), "UK", "adyen")
	assert.Error(t, err)
}

func TestFileStore_ConcurrentWritesSerialize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "routing_config.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Set(ctx, fmt.Sprintf("R%02d", i), "adyen")
			assert.NoError(t, err)
			_, err = s.Table(ctx)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	tbl, err := s.Table(ctx)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		assert.Equal(t, "adyen", tbl[fmt.Sprintf("R%02d", i)])
	}
}
