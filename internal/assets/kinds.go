// Package assets implements the staging-area asset repository that pipeline
// stages read from and write to while a submission is being processed.
package assets

// Kind identifies the role an asset plays in the pipeline.
type Kind string

const (
	KindOriginalVideo     Kind = "original_video"
	KindOptimizedVideo    Kind = "optimized_video"
	KindCaptionedVideo    Kind = "captioned_video"
	KindGeneratedVideo    Kind = "generated_video"
	KindSRTTranscript     Kind = "srt_transcript"
	KindPlainTranscript   Kind = "plain_transcript"
	KindTechMetadata      Kind = "tech_metadata"
	KindThumbnail         Kind = "thumbnail"
	KindBroll             Kind = "broll"
	KindAudio             Kind = "audio"
	KindKeywordExtraction Kind = "keyword_extraction"
)

// Known reports whether k is one of the defined asset kinds.
func Known(k Kind) bool {
	switch k {
	case KindOriginalVideo, KindOptimizedVideo, KindCaptionedVideo,
		KindGeneratedVideo, KindSRTTranscript, KindPlainTranscript,
		KindTechMetadata, KindThumbnail, KindBroll, KindAudio,
		KindKeywordExtraction:
		return true
	}
	return false
}
