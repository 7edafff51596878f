package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/vclip/render-pipeline/internal/types"
)

// ProbeResult is the subset of ffprobe's container metadata the render
// pipeline consults before committing to an encode.
type ProbeResult struct {
	DurationS  float64
	Width      int
	Height     int
	HasAudio   bool
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe runs ffprobe against path and extracts duration/dimensions/audio
// presence. Any failure is classified ProbeFailed (retryable, spec.md §4.G).
func (e *Encoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=codec_type,width,height",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe %s: %v", types.ErrProbeFailed, path, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output for %s: %v", types.ErrProbeFailed, path, err)
	}

	result := &ProbeResult{}
	fmt.Sscanf(parsed.Format.Duration, "%f", &result.DurationS)
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			result.Width, result.Height = s.Width, s.Height
		case "audio":
			result.HasAudio = true
		}
	}
	return result, nil
}
