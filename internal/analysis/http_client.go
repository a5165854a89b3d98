package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"biograph/internal/logging"
	"biograph/internal/types"
)

const maxErrorBody = 2048

// HTTPClient talks to the inference backend over its JSON/multipart API.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	log     *zap.Logger
}

// NewHTTPClient creates a client for baseURL. A zero timeout leaves
// requests bounded only by their context.
func NewHTTPClient(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPClient {
	return &HTTPClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logging.OrNop(log).Named("analysis"),
	}
}

type analyzeReq struct {
	TargetID string `json:"target_id"`
	Smiles   string `json:"smiles,omitempty"`
	Mode     string `json:"mode"`
}

type chatReq struct {
	Question    string        `json:"question"`
	DrugContext ResultContext `json:"drug_context"`
}

func (c *HTTPClient) SubmitScan(ctx context.Context, req types.ScanRequest) (Response, error) {
	if req.Mode == types.ModeUpload {
		return c.upload(ctx, req)
	}
	body, err := json.Marshal(analyzeReq{TargetID: req.TargetID, Smiles: req.Smiles, Mode: string(req.Mode)})
	if err != nil {
		return Response{}, &TransportError{Op: "analyze", Err: err}
	}
	raw, err := c.do(ctx, "analyze", http.MethodPost, "/analyze", "application/json", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	return decodeScan("analyze", raw)
}

func (c *HTTPClient) upload(ctx context.Context, req types.ScanRequest) (Response, error) {
	if req.File == nil {
		return Response{}, &TransportError{Op: "upload", Err: fmt.Errorf("no file attached")}
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("target_id", req.TargetID); err != nil {
		return Response{}, &TransportError{Op: "upload", Err: err}
	}
	part, err := mw.CreateFormFile("file", req.File.Name)
	if err != nil {
		return Response{}, &TransportError{Op: "upload", Err: err}
	}
	if _, err := part.Write(req.File.Content); err != nil {
		return Response{}, &TransportError{Op: "upload", Err: err}
	}
	if err := mw.Close(); err != nil {
		return Response{}, &TransportError{Op: "upload", Err: err}
	}
	raw, err := c.do(ctx, "upload", http.MethodPost, "/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return Response{}, err
	}
	return decodeScan("upload", raw)
}

func (c *HTTPClient) PollProgress(ctx context.Context) (Progress, error) {
	raw, err := c.do(ctx, "progress", http.MethodGet, "/progress", "", nil)
	if err != nil {
		return Progress{}, err
	}
	p, err := decodeProgress(raw)
	if err != nil {
		return Progress{}, &TransportError{Op: "progress", Err: err}
	}
	return p, nil
}

func (c *HTTPClient) AskAssistant(ctx context.Context, question string, rc ResultContext) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, &AssistantError{Err: errEmptyQuestion}
	}
	body, err := json.Marshal(chatReq{Question: question, DrugContext: rc})
	if err != nil {
		return Answer{}, &AssistantError{Err: err}
	}
	raw, err := c.do(ctx, "chat_drug", http.MethodPost, "/chat_drug", "application/json", bytes.NewReader(body))
	if err != nil {
		return Answer{}, &AssistantError{Err: err}
	}
	var out Answer
	if err := json.Unmarshal(raw, &out); err != nil {
		return Answer{}, &AssistantError{Err: fmt.Errorf("decode answer: %w", err)}
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	c.log.Debug("request done",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := raw
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(snippet)))}
	}
	return raw, nil
}
