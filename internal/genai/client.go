// Package genai is a thin client for the Gemini generative API. Image editing
// goes through generateContent; video generation uses the long-running
// predictLongRunning call plus an operation poll. The operation payload is
// treated as opaque: only the documented done flag, result locator, and error
// are read.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls how the client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client talks to the Gemini REST surface.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ImageRequest carries one image-edit call: the uploaded photo plus the
// instruction text describing the wanted result.
type ImageRequest struct {
	ImageData   []byte
	MIME        string
	Instruction string
}

// ImageResult is the synthesized image returned by the provider.
type ImageResult struct {
	Data []byte
	MIME string
}

// VideoRequest starts a long-running video generation from a source image.
type VideoRequest struct {
	ImageData   []byte
	MIME        string
	Prompt      string
	AspectRatio string
	Resolution  string
}

// Operation is the opaque handle for an in-flight video generation. Name is
// passed back verbatim on each poll; the remaining fields are only populated
// once the provider reports the operation done.
type Operation struct {
	Name     string
	Done     bool
	VideoURI string
	Failure  *APIError
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts,omitempty"`
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type videoInstance struct {
	Prompt string      `json:"prompt"`
	Image  *videoImage `json:"image,omitempty"`
}

type videoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	SampleCount int    `json:"sampleCount,omitempty"`
}

type predictLongRunningRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type operationResponse struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. The API key is
// required; a nil HTTP client gets a reusable one with a request timeout so a
// hung provider call cannot stall a job forever.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("genai: api key is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = "veo-2.0-generate-001"
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		imageModel: imageModel,
		videoModel: videoModel,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// EditImage sends the source photo and an instruction to the image model and
// returns the first synthesized image in the response. A response without any
// image payload yields ErrNoImage, which is permanent and never retried.
func (c *Client) EditImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	payload := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []contentPart{
				{Text: req.Instruction},
				{InlineData: &inlineData{
					MimeType: req.MIME,
					Data:     base64.StdEncoding.EncodeToString(req.ImageData),
				}},
			},
		}},
	}

	var response generateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.imageModel))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return ImageResult{}, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return ImageResult{}, fmt.Errorf("genai: decode inline data: %w", err)
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			c.logger.Debug().Str("model", c.imageModel).Int("bytes", len(data)).Msg("genai: image generated")
			return ImageResult{Data: data, MIME: mime}, nil
		}
	}
	return ImageResult{}, ErrNoImage
}

// StartVideo submits a video generation and returns the provider's operation
// handle. Completion is observed by polling, not by this call.
func (c *Client) StartVideo(ctx context.Context, req VideoRequest) (*Operation, error) {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "16:9"
	}
	resolution := req.Resolution
	if resolution == "" {
		resolution = "720p"
	}
	payload := predictLongRunningRequest{
		Instances: []videoInstance{{
			Prompt: req.Prompt,
			Image: &videoImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.ImageData),
				MimeType:           req.MIME,
			},
		}},
		Parameters: videoParameters{
			AspectRatio: aspect,
			Resolution:  resolution,
			SampleCount: 1,
		},
	}

	var response operationResponse
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.videoModel))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, err
	}
	if response.Name == "" {
		return nil, fmt.Errorf("genai: video start returned no operation name")
	}
	c.logger.Debug().Str("model", c.videoModel).Str("operation", response.Name).Msg("genai: video generation started")
	return operationFromResponse(response), nil
}

// PollVideo queries the provider for the current state of an operation and
// returns a refreshed handle.
func (c *Client) PollVideo(ctx context.Context, op *Operation) (*Operation, error) {
	if op == nil || op.Name == "" {
		return nil, fmt.Errorf("genai: operation name is required")
	}
	var response operationResponse
	if err := c.invoke(ctx, http.MethodGet, "/"+strings.TrimLeft(op.Name, "/"), nil, &response); err != nil {
		return nil, err
	}
	if response.Name == "" {
		response.Name = op.Name
	}
	return operationFromResponse(response), nil
}

// DownloadURL appends the API key as a query parameter so the locator can be
// fetched by a client outside this process's request path.
func (c *Client) DownloadURL(uri string) string {
	if uri == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + "key=" + url.QueryEscape(c.apiKey)
}

func operationFromResponse(resp operationResponse) *Operation {
	op := &Operation{Name: resp.Name, Done: resp.Done}
	if resp.Error != nil {
		op.Failure = &APIError{
			Code:    resp.Error.Code,
			Status:  resp.Error.Status,
			Message: resp.Error.Message,
		}
	}
	samples := resp.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) > 0 {
		op.VideoURI = samples[0].Video.URI
	}
	return op
}

func (c *Client) invoke(ctx context.Context, method, path string, payload, out any) error {
	endpoint := c.baseURL + path

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("genai: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("genai: create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("genai: invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("genai: decode response: %w", err)
	}
	return nil
}
