package model

import "strings"

// Failure sentinels: a summary beginning with one of these prefixes is a
// syntactically valid string that nevertheless marks a failed run.
var invalidSummaryPrefixes = []string{
	"无法生成摘要",
	"总结生成失败",
	"无有效信息",
}

// IsSummaryTextValid reports whether text is a usable summary: non-empty
// after trimming and not starting with a failure sentinel.
func IsSummaryTextValid(text string) bool {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return false
	}
	for _, prefix := range invalidSummaryPrefixes {
		if strings.HasPrefix(stripped, prefix) {
			return false
		}
	}
	return true
}

// SummaryArtifact is the schema of the summary.json bundle artifact, the
// authoritative record of a completed run.
type SummaryArtifact struct {
	SummaryText    string `json:"summary_text"`
	Model          string `json:"model"`
	InputChars     int    `json:"input_chars"`
	ProfileVersion string `json:"profile_version"`
}
