package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/warriorguo/riskflow/scoring"
	"github.com/warriorguo/riskflow/types"
)

const promptVersion = "ai-score:v1"

type aiScoreConfig struct {
	Model           string  `json:"model" default:"gemini-2.5-flash"`
	AnalysisFocus   string  `json:"analysisFocus" default:"Assess the transaction for fraud risk considering velocity, geography, amount, device reputation, and payment method patterns."`
	BlockThreshold  float64 `json:"blockThreshold" default:"80"`
	FlagThreshold   float64 `json:"flagThreshold" default:"55"`
	FallbackAction  string  `json:"fallbackAction" default:"FLAG"`
	Temperature     float32 `json:"temperature" default:"0.2"`
	TopP            float32 `json:"topP" default:"0.8"`
	MaxOutputTokens int32   `json:"maxOutputTokens" default:"512"`
	CooldownMsOn429 int64   `json:"cooldownMsOn429" default:"60000"`
	TimeoutMs       int64   `json:"timeoutMs" default:"15000"`
}

func (c *aiScoreConfig) fallback() types.Status {
	if strings.EqualFold(c.FallbackAction, string(types.StatusContinue)) {
		return types.StatusContinue
	}
	return types.StatusFlag
}

func (c *aiScoreConfig) modelConfig() scoring.ModelConfig {
	return scoring.ModelConfig{
		Name:            c.Model,
		Temperature:     c.Temperature,
		TopP:            c.TopP,
		MaxOutputTokens: c.MaxOutputTokens,
	}
}

// AIScore asks an external model for a fraud score. While the shared guard
// is cooling down after a rate limit no call is made. Failures degrade to
// the configured fallback status and never surface as errors.
func AIScore(ctx context.Context, in *types.NodeInput) (*types.NodeResult, error) {
	cfg := &aiScoreConfig{}
	decodeConfig(in.Config, cfg)

	var guard *scoring.Guard
	if in.Services != nil {
		guard = in.Services.Scoring
	}

	if guard != nil {
		if remaining := guard.Remaining(in.Services.Now()); remaining > 0 {
			in.Services.Increment("aiScoreCooldownSkip")
			return &types.NodeResult{
				Status:   cfg.fallback(),
				Reason:   fmt.Sprintf("AI score check skipped due to rate limiting. Retry in %ds", int64(math.Ceil(remaining.Seconds()))),
				Severity: types.SeverityMedium,
				Metadata: types.Data{
					"aiError":      true,
					"model":        cfg.Model,
					"retryAfterMs": remaining.Milliseconds(),
				},
			}, nil
		}
	}

	if in.Transaction == nil {
		return &types.NodeResult{
			Status:   types.StatusContinue,
			Reason:   "No transaction payload provided to AI score check.",
			Metadata: types.Data{"aiError": true, "model": cfg.Model},
		}, nil
	}

	result, err := score(ctx, guard, cfg, in.Transaction)
	if err != nil {
		return scoreFailed(in, guard, cfg, err), nil
	}

	switch result.Status {
	case types.StatusBlock:
		in.Services.Increment("aiScoreBlock")
	case types.StatusFlag:
		in.Services.Increment("aiScoreFlag")
	default:
		in.Services.Increment("aiScorePass")
	}
	if s, ok := result.Metadata["aiScore"].(int); ok {
		in.Services.RecordRisk(s)
	}
	return result, nil
}

func score(ctx context.Context, guard *scoring.Guard, cfg *aiScoreConfig, tx *types.Transaction) (*types.NodeResult, error) {
	prompt, err := buildPrompt(tx, cfg.AnalysisFocus)
	if err != nil {
		return nil, errors.Trace(err)
	}
	model, err := guard.Resolve(ctx, cfg.modelConfig())
	if err != nil {
		return nil, errors.Trace(err)
	}
	text, err := generate(ctx, model, prompt, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, errors.Trace(err)
	}
	payload, ok := extractPayload(text)
	if !ok {
		return nil, errors.NotValidf("model response without a JSON payload")
	}

	s, hasScore := parseScore(payload["score"])
	verdict, _ := payload["verdict"].(string)
	status := normalizeVerdict(verdict, s, hasScore, cfg)

	signals, _ := payload["signals"].([]any)
	if signals == nil {
		signals = []any{}
	}
	reason, _ := payload["reason"].(string)
	if reason == "" {
		scoreText := "N/A"
		if hasScore {
			scoreText = strconv.Itoa(s)
		}
		reason = fmt.Sprintf("AI score suggests %s with score %s.", strings.ToLower(string(status)), scoreText)
	}
	if verdict == "" {
		verdict = string(status)
	}

	metadata := types.Data{
		"aiVerdict":     verdict,
		"aiSignals":     signals,
		"model":         cfg.Model,
		"promptVersion": promptVersion,
		"rawResponse":   text,
	}
	if hasScore {
		metadata["aiScore"] = s
	} else {
		metadata["aiScore"] = nil
	}

	severity := types.SeverityLow
	switch status {
	case types.StatusBlock:
		severity = types.SeverityHigh
	case types.StatusFlag:
		severity = types.SeverityMedium
	}
	return &types.NodeResult{
		Status:   status,
		Reason:   reason,
		Severity: severity,
		Metadata: metadata,
	}, nil
}

// generate bounds the call with timeout even if the model ignores ctx.
func generate(ctx context.Context, model scoring.Model, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		text, err := model.GenerateContent(ctx, prompt)
		ch <- reply{text: text, err: err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", errors.Annotatef(ctx.Err(), "model call timed out after %s", timeout)
	}
}

func scoreFailed(in *types.NodeInput, guard *scoring.Guard, cfg *aiScoreConfig, err error) *types.NodeResult {
	in.Services.Increment("aiScoreError")
	logger := in.Services.Log().WithFields(log.Fields{
		"transaction": in.Transaction.ID,
		"model":       cfg.Model,
	})
	logger.Warnf("AI score check falling back: %v", err)

	metadata := types.Data{"aiError": true, "model": cfg.Model}
	if guard != nil {
		now := in.Services.Now()
		if hint, limited := rateLimitBackoff(err); limited {
			cooldown := hint
			if cooldown <= 0 {
				cooldown = time.Duration(cfg.CooldownMsOn429) * time.Millisecond
			}
			guard.Trip(now.Add(cooldown))
			logger.Warnf("AI score check cooling down for %s", cooldown)
		}
		if remaining := guard.Remaining(now); remaining > 0 {
			metadata["retryAfterMs"] = remaining.Milliseconds()
		}
	}

	return &types.NodeResult{
		Status:   cfg.fallback(),
		Reason:   fmt.Sprintf("AI score check unavailable: %v", err),
		Severity: types.SeverityMedium,
		Metadata: metadata,
	}
}

var retryHint = regexp.MustCompile(`(?i)retry in\s+([0-9.]+)s`)

// rateLimitBackoff reports whether err looks like a rate limit and the
// backoff the provider asked for, if any.
func rateLimitBackoff(err error) (time.Duration, bool) {
	var hint time.Duration
	limited := false

	var statusErr *scoring.StatusError
	if errors.As(err, &statusErr) {
		limited = statusErr.RateLimited()
		hint = statusErr.RetryAfter
	}

	msg := err.Error()
	if m := retryHint.FindStringSubmatch(msg); m != nil {
		limited = true
		if secs, perr := strconv.ParseFloat(m[1], 64); perr == nil && hint <= 0 {
			hint = time.Duration(math.Ceil(secs*1000)) * time.Millisecond
		}
	}
	if strings.Contains(strings.ToLower(msg), "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		limited = true
	}
	return hint, limited
}

func buildPrompt(tx *types.Transaction, focus string) (string, error) {
	body, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return "", errors.Annotatef(err, "encode transaction %s", tx.ID)
	}
	lines := []string{
		"You are an expert fraud detection analyst for a payments company.",
		"Evaluate the transaction data provided below and respond ONLY with a strict JSON object using this schema (no markdown, no narrative):",
		"{",
		`  "score": <number from 0-100 representing fraud risk>,`,
		`  "verdict": "APPROVE" | "FLAG" | "BLOCK",`,
		`  "reason": <succinct explanation>,`,
		`  "signals": [<list of salient factors contributing to the assessment>]`,
		"}",
		"Guidelines:",
		"- Score 0 means no fraud risk, 100 means certain fraud.",
		"- Use BLOCK only for very high-confidence fraud, FLAG when a human review is advisable.",
		"- Always include at least one signal referencing the provided values.",
	}
	if focus != "" {
		lines = append(lines, "Focus area: "+focus)
	}
	lines = append(lines, "", "Transaction JSON:", string(body))
	return strings.Join(lines, "\n"), nil
}

var fencedJSON = regexp.MustCompile("(?is)```json\\s*(.*?)```")

// extractPayload finds a JSON object in free text: the whole text, then a
// fenced json block, then the first balanced brace region that decodes.
func extractPayload(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if payload, ok := decodeObject(text); ok {
		return payload, true
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if payload, ok := decodeObject(m[1]); ok {
			return payload, true
		}
	}
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end >= 0 {
			if payload, ok := decodeObject(text[start : end+1]); ok {
				return payload, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &payload); err != nil || payload == nil {
		return nil, false
	}
	return payload, true
}

// matchBrace returns the index closing the brace at start, skipping braces
// inside JSON strings, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseScore(v any) (int, bool) {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case string:
		n, err := cast.ToFloat64E(strings.TrimSpace(s))
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return int(math.Max(0, math.Min(100, math.Round(f)))), true
}

func normalizeVerdict(verdict string, s int, hasScore bool, cfg *aiScoreConfig) types.Status {
	switch strings.ToUpper(strings.TrimSpace(verdict)) {
	case "BLOCK", "DECLINE", "REJECT":
		return types.StatusBlock
	case "FLAG", "REVIEW", "INVESTIGATE", "ESCALATE":
		return types.StatusFlag
	case "APPROVE", "ALLOW", "PASS", "CONTINUE":
		return types.StatusContinue
	}
	if hasScore {
		if float64(s) >= cfg.BlockThreshold {
			return types.StatusBlock
		}
		if float64(s) >= cfg.FlagThreshold {
			return types.StatusFlag
		}
	}
	return types.StatusContinue
}
