package segment

import "context"

// Analyzer is the audio analysis provider.
type Analyzer interface {
	// DetectSilence returns the silent intervals of file for the given
	// parameters, ordered by start time.
	DetectSilence(ctx context.Context, file string, p Params) ([]SilenceInterval, error)

	// ProbeDuration returns the total duration of file in seconds.
	ProbeDuration(ctx context.Context, file string) (float64, error)
}

// Extractor is the audio extraction provider.
type Extractor interface {
	// Extract writes the range [start, start+duration) of file to outputPath
	// as an independently decodable audio file.
	Extract(ctx context.Context, file string, start, duration float64, outputPath string) error
}
