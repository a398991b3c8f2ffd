package adapter

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/core"
)

type fakeAdapter struct {
	BaseSQLAdapter
}

func (f *fakeAdapter) Connect(context.Context, core.AdapterConfig) error { return nil }
func (f *fakeAdapter) GetTableMetadata(context.Context, string) (*core.TableMetadata, error) {
	return &core.TableMetadata{}, nil
}
func (f *fakeAdapter) LoadCSV(context.Context, string, string) error { return nil }

func TestRegistryRoundTrip(t *testing.T) {
	Register("fake", func(*slog.Logger) Adapter { return &fakeAdapter{} })

	assert.Contains(t, Names(), "fake")

	a, err := NewAdapter(core.AdapterConfig{Type: "fake"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &fakeAdapter{}, a)
}

func TestNewAdapterUnknownType(t *testing.T) {
	_, err := NewAdapter(core.AdapterConfig{Type: "nope"}, nil)
	require.Error(t, err)
	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Type)
}

func TestNewAdapterMissingType(t *testing.T) {
	_, err := NewAdapter(core.AdapterConfig{}, nil)
	assert.Error(t, err)
}
