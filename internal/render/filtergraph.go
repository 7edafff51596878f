// filtergraph builds the -vf filter chain for each style's strategy
// (spec.md §4.G step 5), generalizing the teacher's buildMotionFilter
// switch-over-effect idiom (internal/services/ffmpeg.go) to a
// switch-over-style that consults cached neural detections instead of a
// random Ken Burns effect.
package render

import (
	"fmt"

	"github.com/vclip/render-pipeline/internal/types"
)

// Plan is the resolved strategy for one render: the filter graph plus
// whatever the caller needs to know about panel geometry.
type Plan struct {
	FilterGraph string
	// Panels > 1 means the source is split before being vstacked.
	Panels int
}

// BuildPlan dispatches on style per the table in spec.md §4.G. analysis is
// nil for styles that are not tier-bearing.
func BuildPlan(style types.Style, cropMode types.CropMode, aspect types.AspectRatio, analysis *types.NeuralAnalysisBlob) (Plan, error) {
	switch style {
	case types.StyleOriginal:
		return Plan{FilterGraph: scaleFilter(aspect), Panels: 1}, nil

	case types.StyleSplit, types.StyleSplitFast:
		return Plan{FilterGraph: splitStackFilter(aspect), Panels: 2}, nil

	case types.StyleLeftFocus:
		return Plan{FilterGraph: cropScaleFilter(cropLeft, aspect), Panels: 1}, nil

	case types.StyleRightFocus:
		return Plan{FilterGraph: cropScaleFilter(cropRight, aspect), Panels: 1}, nil

	case types.StyleIntelligent, types.StyleIntelligentBasic, types.StyleIntelligentMotion, types.StyleIntelligentSpeaker, types.StyleIntelligentCinematic:
		if analysis == nil {
			return Plan{}, fmt.Errorf("render: style %s requires neural analysis", style)
		}
		return Plan{FilterGraph: cinematicCropFilter(analysis, aspect), Panels: 1}, nil

	case types.StyleIntelligentSplit, types.StyleIntelligentSplitBasic, types.StyleIntelligentSplitMotion, types.StyleIntelligentSplitSpeaker:
		if analysis == nil {
			return Plan{}, fmt.Errorf("render: style %s requires neural analysis", style)
		}
		return Plan{FilterGraph: intelligentSplitFilter(analysis, aspect), Panels: 2}, nil

	default:
		return Plan{}, fmt.Errorf("render: unknown style %s", style)
	}
}

type cropSide int

const (
	cropLeft cropSide = iota
	cropRight
)

func scaleFilter(aspect types.AspectRatio) string {
	w, h := targetDims(aspect)
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", w, h, w, h)
}

func splitStackFilter(aspect types.AspectRatio) string {
	w, panelH := targetDims(aspect)
	panelH /= 2
	return fmt.Sprintf(
		"split=2[l][r];"+
			"[l]crop=iw/2:ih:0:0,scale=%d:%d[lp];"+
			"[r]crop=iw/2:ih:iw/2:0,scale=%d:%d[rp];"+
			"[lp][rp]vstack=inputs=2",
		w, panelH, w, panelH,
	)
}

func cropScaleFilter(side cropSide, aspect types.AspectRatio) string {
	w, h := targetDims(aspect)
	x := "0"
	if side == cropRight {
		x = "iw/2"
	}
	return fmt.Sprintf("crop=iw/2:ih:%s:0,scale=%d:%d", x, w, h)
}

// cinematicCropFilter builds one full-height crop window of the target
// aspect, horizontally centered on the averaged best-face position from
// centerExpr (or on the frame center when there are no detections). The
// window is static for the whole clip; it does not follow faces over time.
func cinematicCropFilter(analysis *types.NeuralAnalysisBlob, aspect types.AspectRatio) string {
	w, h := targetDims(aspect)
	cx := "iw/2"
	if expr, ok := centerExpr(analysis); ok {
		cx = expr[0]
	}
	return fmt.Sprintf("crop=ih*%d/%d:ih:%s-ih*%d/%d/2:0,scale=%d:%d", aspect.W, aspect.H, cx, aspect.W, aspect.H, w, h)
}

func intelligentSplitFilter(analysis *types.NeuralAnalysisBlob, aspect types.AspectRatio) string {
	w, panelH := targetDims(aspect)
	panelH /= 2
	cropTop := cinematicCropFilter(analysis, aspect)
	return fmt.Sprintf(
		"split=2[t][b];"+
			"[t]%s,scale=%d:%d[tp];"+
			"[b]crop=iw:ih/2:0:ih/2,scale=%d:%d[bp];"+
			"[tp][bp]vstack=inputs=2",
		cropTop, w, panelH, w, panelH,
	)
}

// centerExpr averages the highest-score face bbox centers across frames
// into static x and y expressions; ok=false means no usable detections
// (falls back to a centered crop).
func centerExpr(analysis *types.NeuralAnalysisBlob) ([2]string, bool) {
	if len(analysis.Frames) == 0 {
		return [2]string{}, false
	}
	var sumX, sumY float64
	var n int
	for _, f := range analysis.Frames {
		best := bestFace(f.Faces)
		if best == nil {
			continue
		}
		sumX += best.BBox.X + best.BBox.W/2
		sumY += best.BBox.Y + best.BBox.H/2
		n++
	}
	if n == 0 {
		return [2]string{}, false
	}
	avgX := sumX / float64(n)
	avgY := sumY / float64(n)
	return [2]string{
		fmt.Sprintf("iw*%.4f", avgX),
		fmt.Sprintf("ih*%.4f", avgY),
	}, true
}

func bestFace(faces []types.FaceDetection) *types.FaceDetection {
	var best *types.FaceDetection
	for i := range faces {
		if best == nil || faces[i].Score > best.Score {
			best = &faces[i]
		}
	}
	return best
}

func targetDims(aspect types.AspectRatio) (int, int) {
	const base = 1920
	if aspect.W >= aspect.H {
		return base, base * aspect.H / aspect.W
	}
	return base * aspect.W / aspect.H, base
}
