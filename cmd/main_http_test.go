package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhyangJ/Agent-chat/internal/config"
	"github.com/ZhyangJ/Agent-chat/internal/diag"
)

type fakeScheduler struct {
	stopped bool
}

func (f *fakeScheduler) Stop(context.Context) error {
	f.stopped = true
	return nil
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
	addr         string
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(addr string) error {
	f.addr = addr
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func TestRunWithComponents_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &fakeScheduler{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, ":3000", sched, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.Equal(t, ":3000", httpSrv.addr)
	assert.True(t, sched.stopped)
}

func TestRunWithComponents_ListenFailure(t *testing.T) {
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address already in use")

	err := runWithComponents(context.Background(), ":3000", nil, httpSrv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

func TestOpenDiagStore(t *testing.T) {
	store, closeStore, err := openDiagStore(config.DiagConfig{})
	require.NoError(t, err)
	closeStore()
	assert.IsType(t, &diag.MemoryStore{}, store)

	path := filepath.Join(t.TempDir(), "diag.db")
	store, closeStore, err = openDiagStore(config.DiagConfig{DBPath: path})
	require.NoError(t, err)
	defer closeStore()

	_, err = store.AppendStep(context.Background(), diag.Step{Time: time.Now(), Step: "plan", Detail: "split task"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, dumpDiagnostics(context.Background(), store, &out))

	var dump struct {
		ReasoningSteps []diag.Step        `json:"reasoningSteps"`
		ErrorReports   []diag.ErrorReport `json:"errorReports"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &dump))
	require.Len(t, dump.ReasoningSteps, 1)
	assert.Equal(t, "plan", dump.ReasoningSteps[0].Step)
	assert.Empty(t, dump.ErrorReports)
}

func TestStartLogRotation(t *testing.T) {
	store := diag.NewMemoryStore()
	_, err := store.AppendStep(context.Background(), diag.Step{Time: time.Now(), Step: "a"})
	require.NoError(t, err)

	cfg := &config.Config{
		System: config.SystemConfig{TZ: "UTC"},
		Diag:   config.DiagConfig{ClearCron: "@every 1s"},
	}
	s, err := startLogRotation(cfg, store)
	require.NoError(t, err)
	defer func() { _ = s.Stop(context.Background()) }()

	assert.Eventually(t, func() bool {
		steps, err := store.Steps(context.Background())
		return err == nil && len(steps) == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestNewRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	require.NotNil(t, cmd.Flags().Lookup("port"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "diag")
}
