// Package stt is the OpenAI-compatible speech-to-text client (spec.md
// §4.4.3): a verbose_json transcription request per audio segment, with
// the connection-vs-application error split and backoff policies
// grounded on the teacher's clients package (broadcaster_remote.go's
// shared *http.Client/bearer-header pattern, manifest.go's
// cenkalti/backoff constant/exponential backoff helpers).
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/ffmpeg"
	"github.com/autoclip/worker/internal/logx"
)

// Segment/Word/Result mirror the verbose_json response shape. The
// scheduler's Transcript type (with accumulated offsets across chunks)
// is assembled by internal/audio from a sequence of these.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	Words    []Word    `json:"words"`
}

type verboseJSONResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Word  string  `json:"word"`
	} `json:"words"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Config carries the tunables sourced from internal/config.
type Config struct {
	BaseURL                string
	APIKey                 string
	Model                  string
	Timeout                time.Duration
	MaxAttempts             int
	ConnectionMaxAttempts   int
	ConnectionBackoff       time.Duration
	ConnectionMaxBackoff    time.Duration
}

// Client is the STT HTTP client. httpClient is swappable so tests can
// substitute a fake transport.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

// Transcribe sends one audio segment for transcription, applying
// spec.md §4.4.3's retry taxonomy, and falling back once to a
// WAV-transcoded copy of the segment if the API reports a decode
// failure.
func (c *Client) Transcribe(ctx context.Context, jobID, audioPath, language string) (*Result, error) {
	result, err := c.transcribeWithRetries(ctx, jobID, audioPath, language)
	if err == nil {
		return result, nil
	}

	if !errorIsDecodeFailure(err) {
		return nil, err
	}

	logx.Log(jobID, "stt reported a decode failure, retrying once against a transcoded wav", "segment", audioPath)
	wavPath := audioPath + ".fallback.wav"
	if transcodeErr := ffmpeg.TranscodeSegmentToWAV(ctx, audioPath, wavPath); transcodeErr != nil {
		return nil, apierr.APIError{Msg: "decode-fallback transcode failed", Kind: apierr.FatalSTT, Err: transcodeErr}
	}
	defer os.Remove(wavPath)

	result, err = c.transcribeWithRetries(ctx, jobID, wavPath, language)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func errorIsDecodeFailure(err error) bool {
	var apiErr apierr.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return classify(apiErr.Status, apiErr.Msg) == classDecode
}

// transcribeWithRetries drives the two nested backoff policies spec.md
// §4.4.3 describes: connection-class failures get exponential backoff
// with a higher attempt ceiling, other-retryable failures get a small
// fixed backoff with a lower ceiling.
func (c *Client) transcribeWithRetries(ctx context.Context, jobID, audioPath, language string) (*Result, error) {
	connectionAttempts := 0
	otherAttempts := 0

	connectionPolicy := backoff.WithContext(connectionBackoff(c.cfg), ctx)
	otherPolicy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), uint64(maxInt(c.cfg.MaxAttempts-1, 0))), ctx)

	var lastErr error
	for {
		result, statusCode, body, err := c.doRequest(ctx, audioPath, language)
		if err == nil {
			return result, nil
		}

		class := classify(statusCode, body)
		switch class {
		case classChunkTooLarge:
			return nil, apierr.APIError{Msg: "segment too large for transcription, reduce segment length", Status: statusCode, Kind: apierr.FatalSTT, Err: err}
		case classDecode:
			return nil, apierr.APIError{Msg: "audio could not be decoded", Status: statusCode, Kind: apierr.FatalSTT, Err: err}
		case classNonRetryable:
			return nil, apierr.APIError{Msg: "transcription request rejected", Status: statusCode, Kind: apierr.FatalSTT, Err: err}
		case classConnection:
			lastErr = err
			connectionAttempts++
			if connectionAttempts >= c.cfg.ConnectionMaxAttempts {
				return nil, apierr.APIError{Msg: "stt connection failures exhausted retries", Status: statusCode, Kind: apierr.TransientSTT, Err: lastErr}
			}
			wait := connectionPolicy.NextBackOff()
			if wait == backoff.Stop {
				return nil, apierr.APIError{Msg: "stt connection failures exhausted retries", Status: statusCode, Kind: apierr.TransientSTT, Err: lastErr}
			}
			logx.Log(jobID, "stt connection error, retrying", "attempt", connectionAttempts, "wait", wait.String(), "err", err.Error())
			if !sleepOrDone(ctx, wait) {
				return nil, ctx.Err()
			}
		case classOtherRetryable:
			lastErr = err
			otherAttempts++
			if otherAttempts >= c.cfg.MaxAttempts {
				return nil, apierr.APIError{Msg: "stt transient failures exhausted retries", Status: statusCode, Kind: apierr.TransientSTT, Err: lastErr}
			}
			wait := otherPolicy.NextBackOff()
			if wait == backoff.Stop {
				return nil, apierr.APIError{Msg: "stt transient failures exhausted retries", Status: statusCode, Kind: apierr.TransientSTT, Err: lastErr}
			}
			logx.Log(jobID, "stt transient error, retrying", "attempt", otherAttempts, "wait", wait.String(), "err", err.Error())
			if !sleepOrDone(ctx, wait) {
				return nil, ctx.Err()
			}
		}
	}
}

// connectionBackoff builds the exponential-with-jitter policy for
// connection-class STT failures, grounded on clients/manifest.go's
// DownloadRetryBackoffLong (a cenkalti/backoff constant policy wrapped
// in WithMaxRetries) but exponential since spec.md §4.4.3 calls for
// growing delays up to a cap rather than a fixed interval.
func connectionBackoff(cfg Config) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.ConnectionBackoff
	eb.MaxInterval = cfg.ConnectionMaxBackoff
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	return eb
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// doRequest performs one transcription HTTP call. statusCode is 0 and
// err non-nil for a transport-level failure that never produced a
// response.
func (c *Client) doRequest(ctx context.Context, audioPath, language string) (*Result, int, string, error) {
	body, contentType, err := buildMultipartBody(audioPath, c.cfg.Model, language)
	if err != nil {
		return nil, 0, "", fmt.Errorf("building stt request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return nil, 0, "", fmt.Errorf("building stt request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err.Error(), err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err.Error(), err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := extractErrorMessage(respBody)
		return nil, resp.StatusCode, message, fmt.Errorf("stt request failed with status %d: %s", resp.StatusCode, message)
	}

	var parsed verboseJSONResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, resp.StatusCode, string(respBody), fmt.Errorf("decoding stt response: %w", err)
	}

	result := &Result{Text: parsed.Text, Language: parsed.Language}
	for _, s := range parsed.Segments {
		result.Segments = append(result.Segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	for _, w := range parsed.Words {
		result.Words = append(result.Words, Word{Start: w.Start, End: w.End, Word: w.Word})
	}
	return result, resp.StatusCode, "", nil
}

func extractErrorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return string(body)
}

func buildMultipartBody(audioPath, model, language string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}

	_ = w.WriteField("model", model)
	_ = w.WriteField("response_format", "verbose_json")
	_ = w.WriteField("timestamp_granularities[]", "segment")
	_ = w.WriteField("timestamp_granularities[]", "word")
	if language != "" {
		_ = w.WriteField("language", language)
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
