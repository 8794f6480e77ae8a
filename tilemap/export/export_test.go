package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2024, time.March, 5, 7, 8, 9, 0, loc)

	assert.Equal(t, "tilemap-generator-config_20240305-070809.json", Filename(ts))
}

func TestDirSink_Deliver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	a := Artifact{Filename: "tilemap-generator-config_20240101-000000.json", Data: []byte("null")}
	require.NoError(t, sink.Deliver(context.Background(), a))

	got, err := os.ReadFile(filepath.Join(dir, a.Filename))
	require.NoError(t, err)
	assert.Equal(t, "null", string(got))
}

func TestDirSink_RejectsPathFilename(t *testing.T) {
	sink, err := NewDirSink(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape.json", "sub/dir.json"} {
		err := sink.Deliver(context.Background(), Artifact{Filename: name})
		assert.Error(t, err, "filename %q", name)
	}
}

func TestMemorySink(t *testing.T) {
	var sink MemorySink
	require.NoError(t, sink.Deliver(context.Background(), Artifact{Filename: "a.json"}))
	require.NoError(t, sink.Deliver(context.Background(), Artifact{Filename: "b.json"}))

	got := sink.Artifacts()
	require.Len(t, got, 2)
	assert.Equal(t, "a.json", got[0].Filename)
	assert.Equal(t, "b.json", got[1].Filename)
}
