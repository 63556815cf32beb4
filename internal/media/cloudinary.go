package media

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const cloudinaryAPIBase = "https://api.cloudinary.com"

type Cloudinary struct {
	cloudName  string
	apiKey     string
	apiSecret  string
	apiBase    string
	httpClient *http.Client
	now        func() time.Time
}

type cloudinaryUploadResponse struct {
	SecureURL    string  `json:"secure_url"`
	PublicID     string  `json:"public_id"`
	ResourceType string  `json:"resource_type"`
	Duration     float64 `json:"duration"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type cloudinaryDestroyResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewCloudinary parses a cloudinary://<key>:<secret>@<cloud> URL.
func NewCloudinary(rawURL string, timeout time.Duration) (*Cloudinary, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse cloudinary url: %w", err)
	}

	if parsed.Scheme != "cloudinary" {
		return nil, fmt.Errorf("invalid cloudinary scheme")
	}

	apiKey := parsed.User.Username()
	apiSecret, ok := parsed.User.Password()
	if !ok {
		return nil, fmt.Errorf("missing cloudinary api secret")
	}
	cloudName := parsed.Hostname()
	if apiKey == "" || apiSecret == "" || cloudName == "" {
		return nil, fmt.Errorf("invalid cloudinary credentials")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Cloudinary{
		cloudName:  cloudName,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		apiBase:    cloudinaryAPIBase,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

func (c *Cloudinary) Name() string {
	return "cloudinary"
}

// Upload streams the local file to Cloudinary with resource_type=auto so
// images and videos share one endpoint.
func (c *Cloudinary) Upload(ctx context.Context, localPath string) (Asset, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	signature := c.sign(map[string]string{"timestamp": timestamp})

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			_ = pw.CloseWithError(fmt.Errorf("create file part: %w", err))
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("copy file part: %w", err))
			return
		}
		for _, field := range [][2]string{
			{"timestamp", timestamp},
			{"api_key", c.apiKey},
			{"signature", signature},
		} {
			if err := writer.WriteField(field[0], field[1]); err != nil {
				_ = pw.CloseWithError(fmt.Errorf("write %s field: %w", field[0], err))
				return
			}
		}
		if err := writer.Close(); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("close multipart writer: %w", err))
			return
		}
		_ = pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("auto", "upload"), pr)
	if err != nil {
		_ = pr.Close()
		return Asset{}, fmt.Errorf("build cloudinary upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("cloudinary upload request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsedResp cloudinaryUploadResponse
	if err := decodeCloudinary(resp, &parsedResp); err != nil {
		return Asset{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsedResp.Error != nil && parsedResp.Error.Message != "" {
			return Asset{}, fmt.Errorf("cloudinary upload failed: %s", parsedResp.Error.Message)
		}
		return Asset{}, fmt.Errorf("cloudinary upload failed with status %d", resp.StatusCode)
	}

	if parsedResp.SecureURL == "" {
		return Asset{}, fmt.Errorf("cloudinary response missing secure_url")
	}

	return Asset{
		URL:      parsedResp.SecureURL,
		PublicID: parsedResp.PublicID,
		Duration: parsedResp.Duration,
	}, nil
}

// Delete destroys the asset behind a Cloudinary delivery URL. An asset that is
// already gone counts as deleted.
func (c *Cloudinary) Delete(ctx context.Context, assetURL string) error {
	publicID, resourceType, err := ParseAssetURL(assetURL)
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	form := url.Values{}
	form.Set("public_id", publicID)
	form.Set("timestamp", timestamp)
	form.Set("api_key", c.apiKey)
	form.Set("signature", c.sign(map[string]string{
		"public_id": publicID,
		"timestamp": timestamp,
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(resourceType, "destroy"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build cloudinary destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary destroy request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsedResp cloudinaryDestroyResponse
	if err := decodeCloudinary(resp, &parsedResp); err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsedResp.Error != nil && parsedResp.Error.Message != "" {
			return fmt.Errorf("cloudinary destroy failed: %s", parsedResp.Error.Message)
		}
		return fmt.Errorf("cloudinary destroy failed with status %d", resp.StatusCode)
	}

	switch parsedResp.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("cloudinary destroy %s: %s", publicID, parsedResp.Result)
	}
}

func (c *Cloudinary) endpoint(resourceType, action string) string {
	return fmt.Sprintf("%s/v1_1/%s/%s/%s", c.apiBase, c.cloudName, resourceType, action)
}

// sign implements the Cloudinary API signature: sorted key=value pairs joined
// by '&' with the secret appended, hashed with SHA-1.
func (c *Cloudinary) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	h := sha1.New() // #nosec G401: cloudinary API signature requires SHA-1.
	_, _ = h.Write([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(h.Sum(nil))
}

func decodeCloudinary(resp *http.Response, dst any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fmt.Errorf("read cloudinary response: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode cloudinary response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
