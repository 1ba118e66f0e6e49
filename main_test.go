package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/etoe/internal/config"
	"github.com/pliu/etoe/internal/snapshot"
)

func TestOpenSinkFile(t *testing.T) {
	sink, err := openSink(config.Snapshot{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	defer sink.Close()

	state, err := sink.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Users)
}

func TestOpenSinkSQLite(t *testing.T) {
	sink, err := openSink(config.Snapshot{Backend: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Save(context.Background(), snapshot.State{}))
}

func TestOpenSinkErrors(t *testing.T) {
	_, err := openSink(config.Snapshot{Backend: "redis", DSN: "not a url"})
	assert.Error(t, err)

	_, err = openSink(config.Snapshot{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Log: config.Log{Level: "debug", Format: "json"}}
	newLogger(&buf, cfg).Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	cfg.Log = config.Log{Level: "warn", Format: "text"}
	newLogger(&buf, cfg).Info("quiet")
	assert.Empty(t, buf.String())
}
