// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// adviceResponse is the JSON object the remote backends are prompted
// to return.
type adviceResponse struct {
	Anomaly         bool     `json:"anomaly"`
	ReasoningTrace  string   `json:"reasoning_trace"`
	SuggestedAction string   `json:"suggested_action"`
	ThrottleValue   *float64 `json:"throttle_value"`
	AutoApply       bool     `json:"auto_apply"`
}

// parseAdvice extracts the advice object from a model response,
// tolerating markdown code fences and surrounding prose.
func parseAdvice(text string) (*Advice, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var resp adviceResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return nil, fmt.Errorf("malformed advice object: %w", err)
	}
	if !resp.Anomaly {
		return &Advice{Action: datatypes.ActionNone}, nil
	}

	advice := &Advice{
		Explanation:        resp.ReasoningTrace,
		AuthorizeAutoApply: resp.AutoApply,
	}
	switch strings.ToLower(strings.TrimSpace(resp.SuggestedAction)) {
	case "kill":
		advice.Action = datatypes.ActionKill
	default:
		advice.Action = datatypes.ActionThrottleCPU
		v := defaultThrottleValue
		if resp.ThrottleValue != nil {
			v = datatypes.ClampUnit(*resp.ThrottleValue)
		}
		advice.ThrottleValue = &v
	}
	return advice, nil
}

// extractJSONObject returns the first balanced JSON object in text.
// Models occasionally wrap their answer in a ```json fence or lead
// with prose despite the prompt; both are tolerated.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = strings.TrimPrefix(text[idx+3:], "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}
