package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biograph/internal/types"
)

func newClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", 5*time.Second, nil)
}

func TestSubmitScanManual(t *testing.T) {
	var got analyzeReq
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"name":"Ethanol","smiles":"CCO","score":8.2,"confidence":91.5,"admet":{"toxicity":0.2},"active_sites":[{"atom":1}],"status":"ACTIVE"}`)
	})
	req, err := types.NewScanRequest(types.ModeManual, "6LU7", "CCO", nil)
	require.NoError(t, err)

	resp, err := c.SubmitScan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, analyzeReq{TargetID: "6LU7", Smiles: "CCO", Mode: "manual"}, got)
	require.NotNil(t, resp.Single)
	assert.False(t, resp.IsBatch())
	assert.Equal(t, 8.2, resp.Single.Score)
	assert.Equal(t, types.Confidence("91.5"), resp.Single.Confidence)
	assert.Equal(t, 0.2, resp.Single.Admet["toxicity"])
	assert.JSONEq(t, `[{"atom":1}]`, string(resp.Single.ActiveSites))
}

func TestSubmitScanBatch(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":[{"name":"A","smiles":"C","score":9.1},{"name":"B","smiles":"CC","score":5}],"scan_time":1.5}`)
	})
	req, _ := types.NewScanRequest(types.ModeAuto, "6LU7", "", nil)
	resp, err := c.SubmitScan(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.IsBatch())
	assert.Len(t, resp.Batch.Entries, 2)
	assert.Equal(t, 1.5, resp.Batch.ScanTime)
}

func TestSubmitScanEmptyBatch(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":[]}`)
	})
	req, _ := types.NewScanRequest(types.ModeAuto, "6LU7", "", nil)
	resp, err := c.SubmitScan(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.IsBatch())
	assert.Empty(t, resp.Batch.Entries)
}

func TestSubmitScanErrorPayload(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":"Invalid Target ID 'XYZ'"}`)
	})
	req, _ := types.NewScanRequest(types.ModeManual, "XYZ", "CCO", nil)
	_, err := c.SubmitScan(context.Background(), req)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Invalid Target ID 'XYZ'", se.Message)
	assert.True(t, IsScanFailure(err))
	assert.Equal(t, "Invalid Target ID 'XYZ'", UserMessage(err))
}

func TestSubmitScanEmptyErrorIsNotAFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty string", `{"error":"","name":"Ethanol","smiles":"CCO","score":8.2}`},
		{"blank string", `{"error":"  ","name":"Ethanol","smiles":"CCO","score":8.2}`},
		{"null", `{"error":null,"name":"Ethanol","smiles":"CCO","score":8.2}`},
		{"false", `{"error":false,"name":"Ethanol","smiles":"CCO","score":8.2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			})
			req, _ := types.NewScanRequest(types.ModeManual, "6LU7", "CCO", nil)
			resp, err := c.SubmitScan(context.Background(), req)
			require.NoError(t, err)
			require.NotNil(t, resp.Single)
			assert.Equal(t, "Ethanol", resp.Single.Name)
		})
	}
}

func TestSubmitScanTransportFailures(t *testing.T) {
	tests := []struct {
		name   string
		h      http.HandlerFunc
		status int
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, http.StatusInternalServerError},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html>`)
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.h)
			req, _ := types.NewScanRequest(types.ModeManual, "6LU7", "CCO", nil)
			_, err := c.SubmitScan(context.Background(), req)
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.Status)
			assert.Equal(t, "Server Error or Network Issue", UserMessage(err))
		})
	}
}

func TestSubmitScanUnreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", time.Second, nil)
	req, _ := types.NewScanRequest(types.ModeAuto, "6LU7", "", nil)
	_, err := c.SubmitScan(context.Background(), req)
	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestSubmitScanUpload(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "6LU7", r.FormValue("target_id"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "mols.csv", hdr.Filename)
		assert.Equal(t, "name,smiles\nA,C\n", string(body))
		io.WriteString(w, `{"results":[{"name":"A","smiles":"C","score":8}],"scan_time":0.3}`)
	})
	req, err := types.NewScanRequest(types.ModeUpload, "6LU7", "", &types.Upload{Name: "mols.csv", Content: []byte("name,smiles\nA,C\n")})
	require.NoError(t, err)
	resp, err := c.SubmitScan(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.IsBatch())
	assert.Equal(t, "A", resp.Batch.Entries[0].Name)
}

func TestPollProgress(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{"percent", `{"progress":42,"status":"Analyzing..."}`, 42},
		{"counts", `{"current":25,"total":100,"status":"Analyzing..."}`, 25},
		{"clamped", `{"progress":140}`, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/progress", r.URL.Path)
				io.WriteString(w, tt.body)
			})
			p, err := c.PollProgress(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Percent)
		})
	}
}

func TestAskAssistant(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat_drug", r.URL.Path)
		var body chatReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Is it safe?", body.Question)
		assert.Equal(t, "Ethanol", body.DrugContext.Name)
		io.WriteString(w, `{"answer":"Mostly."}`)
	})
	ans, err := c.AskAssistant(context.Background(), "Is it safe?", ResultContext{Name: "Ethanol", Smiles: "CCO", Score: 8})
	require.NoError(t, err)
	assert.Equal(t, "Mostly.", ans.Text)
}

func TestAskAssistantFailureIsTyped(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	_, err := c.AskAssistant(context.Background(), "q", ResultContext{})
	var ae *AssistantError
	require.ErrorAs(t, err, &ae)
	var te *TransportError
	assert.ErrorAs(t, ae.Err, &te)
}

type stubAssistant struct {
	answer string
	err    error
}

func (s stubAssistant) Ask(context.Context, string, ResultContext) (string, error) {
	return s.answer, s.err
}

func TestWithAssistantRoutesChat(t *testing.T) {
	fake := NewFake()
	svc := WithAssistant(fake, stubAssistant{answer: "local"})
	ans, err := svc.AskAssistant(context.Background(), "q", ResultContext{})
	require.NoError(t, err)
	assert.Equal(t, "local", ans.Text)
	assert.Empty(t, fake.Questions())

	svc = WithAssistant(fake, stubAssistant{err: errors.New("quota")})
	_, err = svc.AskAssistant(context.Background(), "q", ResultContext{})
	var ae *AssistantError
	require.ErrorAs(t, err, &ae)

	assert.Same(t, fake, WithAssistant(fake, nil))
}
