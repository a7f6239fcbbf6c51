package client

import (
	"context"
	"encoding/json"
	"forecastica/pkg/api"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 60 * time.Second

// Client talks to the external analysis and training server. Every call is
// bounded by the client timeout in addition to the caller's context.
type Client struct {
	client  *resty.Client
	baseURL string
	timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		client:  resty.New().SetBaseURL(baseURL).SetHeader("Accept", "application/json"),
		baseURL: baseURL,
		timeout: timeout,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func ValidateCSVFilename(filename string) error {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if filename == "" || name == "." || name == "/" {
		return &ValidationError{Field: "file", Reason: "no file selected"}
	}
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		return &ValidationError{Field: "file", Reason: "only .csv files can be uploaded"}
	}
	return nil
}

func (c *Client) call(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error), out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := send(c.client.R().SetContext(ctx))
	if err != nil {
		slog.Error("request to server failed", "op", op, "error", err)
		return &TransportError{Op: op, Err: err}
	}

	if !res.IsSuccess() {
		var body api.ErrorResponse
		if err := json.Unmarshal(res.Body(), &body); err != nil {
			slog.Warn("server error response is not json", "op", op, "status_code", res.StatusCode())
		}
		slog.Error("server returned error", "op", op, "status_code", res.StatusCode(), "error", body.Error)
		return &ApplicationError{Op: op, StatusCode: res.StatusCode(), Message: body.Error}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(res.Body(), out); err != nil {
		slog.Error("error parsing server response", "op", op, "error", err, "body", res.String())
		return &ParseError{Op: op, Body: res.String(), Err: err}
	}

	return nil
}

func (c *Client) Upload(ctx context.Context, filename string, data io.Reader) (api.UploadResponse, error) {
	var res api.UploadResponse
	if err := ValidateCSVFilename(filename); err != nil {
		return res, err
	}

	err := c.call(ctx, "upload", func(r *resty.Request) (*resty.Response, error) {
		return r.SetFileReader("file", path.Base(filename), data).Post("/upload")
	}, &res)
	return res, err
}

// LoadExisting makes a file previously uploaded to the server the active
// dataset again.
func (c *Client) LoadExisting(ctx context.Context, filename string) (api.UploadResponse, error) {
	var res api.UploadResponse
	if err := ValidateCSVFilename(filename); err != nil {
		return res, err
	}

	err := c.call(ctx, "load file", func(r *resty.Request) (*resty.Response, error) {
		return r.SetFormData(map[string]string{"filename": filename}).Post("/upload")
	}, &res)
	return res, err
}

func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	var res api.FilesResponse
	err := c.call(ctx, "list files", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/list-files")
	}, &res)
	return res.Files, err
}

func (c *Client) CurrentData(ctx context.Context) (api.TableData, error) {
	var res api.CurrentDataResponse
	err := c.call(ctx, "current data", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/current-data")
	}, &res)
	return res.Data, err
}

func (c *Client) RemoveColumns(ctx context.Context, req api.RemoveColumnsRequest) (api.EditResponse, error) {
	var res api.EditResponse
	err := c.call(ctx, "remove columns", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/remove-columns")
	}, &res)
	return res, err
}

func (c *Client) HandleNulls(ctx context.Context, req api.HandleNullsRequest) (api.EditResponse, error) {
	var res api.EditResponse
	err := c.call(ctx, "handle nulls", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/handle-nulls")
	}, &res)
	return res, err
}

// Analyze asks the server to generate distribution plots for the active
// dataset and returns their filenames.
func (c *Client) Analyze(ctx context.Context) (api.ImageManifest, error) {
	return c.manifest(ctx, "analyze", "/analyze")
}

func (c *Client) ListImages(ctx context.Context) (api.ImageManifest, error) {
	return c.manifest(ctx, "list images", "/images")
}

func (c *Client) AnalyzeData(ctx context.Context) (api.ImageManifest, error) {
	return c.manifest(ctx, "analyze data", "/analyze-data")
}

func (c *Client) manifest(ctx context.Context, op, endpoint string) (api.ImageManifest, error) {
	var res api.ImageManifest
	err := c.call(ctx, op, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(endpoint)
	}, &res)
	return res, err
}

func (c *Client) ImageURL(filename string) string {
	return c.baseURL + "/images/" + url.PathEscape(filename)
}

func (c *Client) FetchImage(ctx context.Context, filename string) ([]byte, error) {
	var body []byte
	err := c.call(ctx, "fetch image", func(r *resty.Request) (*resty.Response, error) {
		res, err := r.SetPathParam("name", filename).SetHeader("Accept", "image/*").Get("/images/{name}")
		if err == nil {
			body = res.Body()
		}
		return res, err
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &ParseError{Op: "fetch image", Err: io.ErrUnexpectedEOF}
	}
	return body, nil
}

// ResolveURL turns an artifact reference from a response into an absolute
// url. References are either absolute already or relative to the server.
func (c *Client) ResolveURL(ref api.Artifact) string {
	s := ref.String()
	if u, err := url.Parse(s); err == nil && u.IsAbs() {
		return s
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return c.baseURL + s
}

func (c *Client) Download(ctx context.Context, ref api.Artifact) ([]byte, error) {
	if !ref.Present() {
		return nil, &ValidationError{Field: "artifact", Reason: "no artifact url provided"}
	}

	var body []byte
	err := c.call(ctx, "download artifact", func(r *resty.Request) (*resty.Response, error) {
		res, err := r.SetHeader("Accept", "*/*").Get(c.ResolveURL(ref))
		if err == nil {
			body = res.Body()
		}
		return res, err
	}, nil)
	return body, err
}

func (c *Client) TrainModels(ctx context.Context, req api.TrainRequest) (api.TrainResponse, error) {
	var res api.TrainResponse
	if req.TargetColumn == "" {
		return res, &ValidationError{Field: "target_column", Reason: "target column is required"}
	}

	err := c.call(ctx, "train models", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/train-models")
	}, &res)
	return res, err
}

// SelectModel asks the server which model fits the target column of the
// active dataset.
func (c *Client) SelectModel(ctx context.Context, req api.SelectModelRequest) (api.SelectModelResponse, error) {
	var res api.SelectModelResponse
	if req.TargetVariable == "" {
		return res, &ValidationError{Field: "target_column", Reason: "target column is required"}
	}

	err := c.call(ctx, "select model", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/select-model")
	}, &res)
	return res, err
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var res api.ModelsResponse
	err := c.call(ctx, "list models", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/list-models")
	}, &res)
	return res.Models, err
}

func (c *Client) RunPredictions(ctx context.Context, req api.PredictRequest) (api.PredictResponse, error) {
	var res api.PredictResponse
	if req.ModelName == "" {
		return res, &ValidationError{Field: "model_name", Reason: "a model must be selected"}
	}

	err := c.call(ctx, "run predictions", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post("/run-predictions")
	}, &res)
	return res, err
}
