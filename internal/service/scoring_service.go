package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// Scorer 供编排器消费的最小评分接口
type Scorer interface {
	Score(ctx context.Context, audioRef, referenceText string) (*model.ScoreResult, json.RawMessage, error)
}

// ScoringService 远程语音评分服务客户端。
// 对 (audio_ref, reference_text) 幂等，可安全 at-least-once 调用。
type ScoringService struct {
	config config.ScoringConfig
	client *http.Client
}

func NewScoringService(cfg config.ScoringConfig) *ScoringService {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ScoringService{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	AudioRef      string `json:"audio_ref"`
	ReferenceText string `json:"reference_text"`
}

type scoreResponse struct {
	model.ScoreResult
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *ScoringService) Score(ctx context.Context, audioRef, referenceText string) (*model.ScoreResult, json.RawMessage, error) {
	ctx, span := tracing.Tracer.Start(ctx, "scoring.score")
	defer span.End()
	span.SetAttributes(attribute.String("audio_ref", audioRef))

	reqBody := scoreRequest{AudioRef: audioRef, ReferenceText: referenceText}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/v1/assess", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, util.NewScoringError(util.ScoringCodeTimeout, err)
		}
		return nil, nil, util.NewScoringError(util.ScoringCodeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, util.NewScoringError(util.ScoringCodeUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, nil, util.NewScoringError(util.ScoringCodeUnavailable,
			fmt.Errorf("scoring API error (status %d): %s", resp.StatusCode, string(body)))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, nil, util.NewScoringError(util.ScoringCodeInvalidInput,
			fmt.Errorf("scoring API rejected input (status %d): %s", resp.StatusCode, string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, nil, util.NewScoringError(util.ScoringCodeUnavailable,
			fmt.Errorf("scoring API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var result scoreResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, nil, util.NewScoringError(util.ScoringCodeUnavailable, err)
	}

	if result.Error != nil {
		return nil, nil, util.NewScoringError(result.Error.Code,
			errors.New(result.Error.Message))
	}

	res := result.ScoreResult
	return &res, json.RawMessage(body), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
