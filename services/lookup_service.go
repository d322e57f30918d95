package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/docchat/internal/utils"
)

const (
	defaultLookupBaseURL = "https://api.duckduckgo.com"
	defaultLookupTimeout = 10 * time.Second

	NoWebInfoText      = "No web info found."
	LookupFallbackText = "Unable to search the web right now."
)

var ErrLookupFailed = errors.New("lookup: request failed")

// LookupResult separates "nothing found" from "could not look".
type LookupResult struct {
	Snippet string
	Found   bool
	Err     error
}

// Text renders the result for the system prompt.
func (r LookupResult) Text() string {
	switch {
	case r.Err != nil:
		return LookupFallbackText
	case !r.Found:
		return NoWebInfoText
	default:
		return r.Snippet
	}
}

type instantAnswer struct {
	AbstractText string `json:"AbstractText"`
	Answer       string `json:"Answer"`
}

// LookupService performs one instant-answer query per call. It never retries.
type LookupService struct {
	baseURL string
	client  *resty.Client
	logger  *zap.SugaredLogger
}

func NewLookupService(cfg utils.LookupConfig, logger *zap.SugaredLogger) *LookupService {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultLookupBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	if logger == nil {
		logger = utils.NopLogger()
	}

	return &LookupService{
		baseURL: base,
		client:  resty.New().SetTimeout(timeout),
		logger:  logger,
	}
}

func (s *LookupService) Lookup(ctx context.Context, query string) LookupResult {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"q":           query,
			"format":      "json",
			"no_redirect": "1",
		}).
		Get(s.baseURL + "/")
	if err != nil {
		return s.failed(fmt.Errorf("%w: %v", ErrLookupFailed, err))
	}

	if resp.IsError() {
		return s.failed(fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode()))
	}

	var answer *instantAnswer
	if err := json.Unmarshal(resp.Body(), &answer); err != nil {
		return s.failed(fmt.Errorf("%w: decode response: %v", ErrLookupFailed, err))
	}
	if answer == nil {
		return s.failed(fmt.Errorf("%w: empty response body", ErrLookupFailed))
	}

	for _, candidate := range []string{answer.AbstractText, answer.Answer} {
		if candidate != "" {
			return LookupResult{Snippet: candidate, Found: true}
		}
	}

	return LookupResult{}
}

func (s *LookupService) failed(err error) LookupResult {
	s.logger.Warnf("web lookup failed: %v", err)
	return LookupResult{Err: err}
}
