package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/examclean/internal/config"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			BaseURL:        baseURL,
			Model:          "default",
			Reranker:       "medcpt",
			TimeoutMs:      2000,
			BatchTimeoutMs: 2000,
			MaxRetries:     1,
			BackoffBaseMs:  1,
		},
		Orchestrator: config.OrchestratorConfig{
			BatchThreshold:  500,
			Concurrency:     3,
			PollIntervalMs:  10,
			PollTimeoutSecs: 1,
		},
		Circuit: config.CircuitConfig{FailureThreshold: 3, ResetTimeoutSecs: 300},
		Review:  config.ReviewConfig{LowConfidence: 0.85, ConfidenceGap: 0.15},
	}
}

// cleaningService answers /process by title-casing the first two words.
func cleaningService(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process", r.URL.Path)
		calls.Add(1)

		var req struct {
			ExamName string `json:"examName"`
			Model    string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "default", req.Model)

		clean := "CT Head"
		if strings.Contains(strings.ToLower(req.ExamName), "knee") {
			clean = "MR Knee"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cleanName":  clean,
			"components": map[string]any{"confidence": 0.95},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exams.csv")
	data := "Data Source,Exam Code,Exam Name,Modality Code\n" +
		"RIS,1,CT HEAD WO,CT\n" +
		"RIS,2,CT BRAIN,CT\n" +
		"PACS,3,MRI KNEE LT,MR\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestRunProcess_JSON(t *testing.T) {
	var calls atomic.Int32
	srv := cleaningService(t, &calls)
	c := testConfig(srv.URL)

	outPath := filepath.Join(t.TempDir(), "out.json")
	var stdout bytes.Buffer
	err := runProcess(context.Background(), newSession(c), writeCSV(t), outPath, "json", &stdout)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, stdout.String(), "strategy:            individual")
	assert.Contains(t, stdout.String(), "consolidation ratio: 1.50")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var report processReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 3, report.Stats.TotalRecords)
	assert.Equal(t, 2, report.Stats.UniqueCleanNames)
	require.Len(t, report.Records, 3)
	assert.Equal(t, "CT Head", report.Records[0].CleanName)
	assert.Equal(t, "RIS", report.Records[0].DataSource)
	assert.Equal(t, "MR Knee", report.Records[2].CleanName)
	assert.Equal(t, "PACS", report.Records[2].DataSource)
}

func TestRunProcess_YAML(t *testing.T) {
	var calls atomic.Int32
	srv := cleaningService(t, &calls)

	outPath := filepath.Join(t.TempDir(), "out.yaml")
	err := runProcess(context.Background(), newSession(testConfig(srv.URL)), writeCSV(t), outPath, "YAML", &bytes.Buffer{})
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var report processReport
	require.NoError(t, yaml.Unmarshal(data, &report))
	assert.Equal(t, 3, report.Stats.TotalRecords)
	assert.Contains(t, string(data), "clean_name: MR Knee")
}

func TestRunProcess_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := cleaningService(t, &calls)
	sess := newSession(testConfig(srv.URL))

	err := runProcess(context.Background(), sess, writeCSV(t), "", "xml", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown format")

	empty := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("exam_code,exam_name\n1,\n"), 0o644))
	err = runProcess(context.Background(), sess, empty, "", "json", &bytes.Buffer{})
	assert.ErrorContains(t, err, "no exams")

	assert.Zero(t, calls.Load())
}
