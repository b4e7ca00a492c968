package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/linkgate/config"
	"github.com/use-agent/linkgate/models"
)

func gateServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/go/abc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landing", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Landing</title></head><body>ok</body></html>`)
	})
	mux.HandleFunc("/stuck", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="https://real-destination.example/page">continue</a></body></html>`)
	})
	mux.HandleFunc("/wall", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="g-recaptcha"></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) ([]models.ResolveResponse, error) {
	t.Helper()
	cfg := &config.Config{
		Browser:  config.BrowserConfig{Backend: "rod"},
		Resolver: config.ResolverConfig{NavigationTimeout: 5 * time.Second},
	}
	cmd := newRootCmd(cfg)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--backend", "http"}, args...))

	err := cmd.Execute()

	var results []models.ResolveResponse
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r models.ResolveResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		results = append(results, r)
	}
	return results, err
}

func TestResolveCommand(t *testing.T) {
	srv := gateServer(t)

	results, err := execute(t, "-c", "2", srv.URL+"/go/abc", srv.URL+"/stuck")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.Equal(t, srv.URL+"/landing", results[0].FinalURL)
	require.NotNil(t, results[0].Metadata)
	assert.Equal(t, "Landing", results[0].Metadata.Title)

	assert.True(t, results[1].Success)
	assert.Equal(t, "https://real-destination.example/page", results[1].FinalURL)
}

func TestResolveCommandReportsFailures(t *testing.T) {
	srv := gateServer(t)

	results, err := execute(t, srv.URL+"/wall", "ftp://files.example/x", srv.URL+"/go/abc")
	require.EqualError(t, err, "2 of 3 links failed")
	require.Len(t, results, 3)

	assert.Equal(t, models.ErrCodeCaptcha, results[0].Error.Code)
	assert.Equal(t, models.ErrCodeValidation, results[1].Error.Code)
	assert.True(t, results[2].Success)
}

func TestResolveCommandNeedsArgs(t *testing.T) {
	_, err := execute(t)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "WARN", parseLevel("loud").String())
}
