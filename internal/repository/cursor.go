package repository

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// scanCursor is the resume position of a full-table scan, keyed like the
// timetable primary key.
type scanCursor struct {
	Section string `json:"pk" dynamodbav:"PK"`
	SortKey string `json:"sk" dynamodbav:"SK"`
}

func encodeCursor(c scanCursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode scan cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(token string) (*scanCursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode scan cursor: %w", err)
	}
	var c scanCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode scan cursor: %w", err)
	}
	if c.Section == "" || c.SortKey == "" {
		return nil, fmt.Errorf("decode scan cursor: incomplete position")
	}
	return &c, nil
}
