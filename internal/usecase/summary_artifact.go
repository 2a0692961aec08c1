package usecase

import (
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/domain/model"
)

var (
	errSummaryJSONMissing = errors.New("summary_json_missing")
	errSummaryJSONInvalid = errors.New("summary_json_invalid")
)

// readSummaryArtifact loads and type-checks summary.json from a bundle or
// tmp directory. Fields must be present with the exact types; extra fields
// are ignored. Profile version equality is the caller's concern.
func readSummaryArtifact(dir string) (*model.SummaryArtifact, error) {
	raw, err := os.ReadFile(filepath.Join(dir, bundle.SummaryFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errSummaryJSONMissing
		}
		return nil, errSummaryJSONInvalid
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errSummaryJSONInvalid
	}

	text, ok := fields["summary_text"].(string)
	if !ok {
		return nil, errSummaryJSONInvalid
	}
	modelName, ok := fields["model"].(string)
	if !ok {
		return nil, errSummaryJSONInvalid
	}
	chars, ok := fields["input_chars"].(float64)
	if !ok || chars != math.Trunc(chars) {
		return nil, errSummaryJSONInvalid
	}
	version, ok := fields["profile_version"].(string)
	if !ok {
		return nil, errSummaryJSONInvalid
	}

	return &model.SummaryArtifact{
		SummaryText:    text,
		Model:          modelName,
		InputChars:     int(chars),
		ProfileVersion: version,
	}, nil
}
