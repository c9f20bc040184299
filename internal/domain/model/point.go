// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location captures where a data point was recorded. All fields besides
// latitude/longitude are optional in uploads.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

// Metadata carries the per-point envelope shared by stream points and survey
// responses. Timestamp is required and participates in duplicate detection.
type Metadata struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Location  *Location `json:"location,omitempty"`
}

// DataPoint is one schema-validated observation against a stream.
type DataPoint struct {
	StreamID      string   `json:"stream_id"`
	StreamVersion int64    `json:"stream_version"`
	Metadata      Metadata `json:"metadata"`
	Data          any      `json:"data"`
}

// IdentityKey builds the duplicate-detection key for the point. Two points
// with the same stream, version, timestamp and location are the same
// observation regardless of where in a batch they appear.
func (p DataPoint) IdentityKey() string {
	return identityKey(p.StreamID, p.StreamVersion, p.Metadata)
}

// SurveyResponse is one validated submission against a survey definition.
// Responses holds the canonical values keyed by survey item id.
type SurveyResponse struct {
	SurveyID      string         `json:"survey_id"`
	SurveyVersion int64          `json:"survey_version"`
	Metadata      Metadata       `json:"metadata"`
	Responses     map[string]any `json:"responses"`
}

// IdentityKey builds the duplicate-detection key for the response.
func (r SurveyResponse) IdentityKey() string {
	return identityKey(r.SurveyID, r.SurveyVersion, r.Metadata)
}

func identityKey(schemaID string, version int64, md Metadata) string {
	var b strings.Builder
	b.WriteString(schemaID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(version, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(md.Timestamp.UTC().UnixNano(), 10))
	if md.Location != nil {
		fmt.Fprintf(&b, "|%.6f,%.6f", md.Location.Latitude, md.Location.Longitude)
	}
	return b.String()
}
