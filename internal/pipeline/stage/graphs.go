package stage

import "github.com/hszk-dev/sumcache/internal/pipeline"

// URLFlowConfig is the DAG for URL submissions: try the subtitle path
// first, fall back to download/extract/transcribe when the subtitle is
// missing or too sparse.
func URLFlowConfig() pipeline.Config {
	return pipeline.Config{
		Version: "v1",
		Nodes: []pipeline.NodeConfig{
			{ID: "input", Type: TypeInput},
			{ID: "fetch_metadata", Type: TypeFetchMetadata},
			{ID: "download_subtitle", Type: TypeDownloadSubtitle},
			{ID: "parse_subtitle", Type: TypeParseSubtitle},
			{ID: "validate_subtitle", Type: TypeValidateSubtitle},
			{ID: "text_summarize", Type: TypeTextSummarize},
			{ID: "download_video", Type: TypeDownloadVideo},
			{ID: "extract_audio", Type: TypeExtractAudio},
			{ID: "transcribe", Type: TypeTranscribe},
		},
		Edges: []pipeline.EdgeConfig{
			{Source: "input", Target: "fetch_metadata"},
			{Source: "input", Target: "download_subtitle"},
			{Source: "download_subtitle", Target: "parse_subtitle"},
			{Source: "parse_subtitle", Target: "validate_subtitle"},
			{Source: "fetch_metadata", Target: "validate_subtitle"},
			{Source: "validate_subtitle", Target: "text_summarize", Condition: "subtitle_valid == True"},
			{Source: "validate_subtitle", Target: "download_video", Condition: "subtitle_valid == False"},
			{Source: "download_video", Target: "extract_audio"},
			{Source: "extract_audio", Target: "transcribe"},
			{Source: "transcribe", Target: "text_summarize"},
		},
	}
}

// LocalFlowConfig is the DAG for uploaded files, dispatched on the upload
// type. Subtitle uploads parse and validate directly; audio and video
// uploads go through transcription with a silence check, and silent audio
// ends in the warning stage. An empty warningMessage selects the default
// sentinel.
func LocalFlowConfig(warningMessage string) pipeline.Config {
	if warningMessage == "" {
		warningMessage = DefaultWarningMessage
	}
	return pipeline.Config{
		Version: "v1",
		Nodes: []pipeline.NodeConfig{
			{ID: "input", Type: TypeInput},
			{ID: "fetch_metadata", Type: TypeFetchMetadata},
			{ID: "parse_subtitle", Type: TypeParseSubtitle},
			{ID: "validate_subtitle", Type: TypeValidateSubtitle},
			{ID: "text_summarize", Type: TypeTextSummarize},
			{ID: "extract_audio", Type: TypeExtractAudio},
			{ID: "transcribe", Type: TypeTranscribe},
			{ID: "detect_silence", Type: TypeDetectSilence},
			{ID: "warning", Type: TypeWarning, Params: map[string]any{"message": warningMessage}},
		},
		Edges: []pipeline.EdgeConfig{
			{Source: "input", Target: "parse_subtitle", Condition: "local_input_type == 'subtitle'"},
			{Source: "parse_subtitle", Target: "validate_subtitle", Condition: "local_input_type == 'subtitle'"},
			{Source: "validate_subtitle", Target: "text_summarize", Condition: "subtitle_valid == True"},
			{Source: "input", Target: "fetch_metadata", Condition: "local_input_type in ['audio','video']"},
			{Source: "fetch_metadata", Target: "extract_audio", Condition: "local_input_type == 'video'"},
			{Source: "fetch_metadata", Target: "transcribe", Condition: "local_input_type == 'audio'"},
			{Source: "extract_audio", Target: "transcribe", Condition: "local_input_type == 'video'"},
			{Source: "transcribe", Target: "detect_silence", Condition: "local_input_type in ['audio','video']"},
			{Source: "detect_silence", Target: "warning", Condition: "local_input_type == 'audio' and is_silent == True"},
			{Source: "detect_silence", Target: "text_summarize", Condition: "is_silent == False"},
		},
	}
}
