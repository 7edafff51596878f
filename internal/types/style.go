package types

// Style is a rendering strategy applied to a single scene to produce one clip.
type Style string

const (
	StyleOriginal               Style = "original"
	StyleSplit                  Style = "split"
	StyleSplitFast               Style = "split_fast"
	StyleLeftFocus               Style = "left_focus"
	StyleRightFocus               Style = "right_focus"
	StyleIntelligent              Style = "intelligent"
	StyleIntelligentBasic         Style = "intelligent_basic"
	StyleIntelligentSplit         Style = "intelligent_split"
	StyleIntelligentSplitBasic    Style = "intelligent_split_basic"
	StyleIntelligentMotion        Style = "intelligent_motion"
	StyleIntelligentSplitMotion   Style = "intelligent_split_motion"
	StyleIntelligentSpeaker       Style = "intelligent_speaker"
	StyleIntelligentSplitSpeaker  Style = "intelligent_split_speaker"
	StyleIntelligentCinematic     Style = "intelligent_cinematic"
)

// DetectionTier is a rank-ordered contract describing what ML analysis a
// rendering needs. Order matters: comparisons use SpeedRank, not enum order.
type DetectionTier string

const (
	TierNone         DetectionTier = "none"
	TierMotionAware  DetectionTier = "motion_aware"
	TierBasic        DetectionTier = "basic"
	TierAudioAware   DetectionTier = "audio_aware"
	TierSpeakerAware DetectionTier = "speaker_aware"
	TierCinematic    DetectionTier = "cinematic"
)

// speedRank implements the order None < MotionAware < Basic < AudioAware <
// SpeakerAware < Cinematic from spec.md §9.
var speedRank = map[DetectionTier]int{
	TierNone:         0,
	TierMotionAware:  1,
	TierBasic:        2,
	TierAudioAware:   3,
	TierSpeakerAware: 4,
	TierCinematic:    5,
}

// SpeedRank returns the tier's position in the speed-rank order. Unknown
// tiers rank below TierNone so they never satisfy a cache lookup.
func (t DetectionTier) SpeedRank() int {
	if r, ok := speedRank[t]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether t is ranked at or above other.
func (t DetectionTier) AtLeast(other DetectionTier) bool {
	return t.SpeedRank() >= other.SpeedRank()
}

// RequiredTier implements the pure function style → required_tier from spec.md §9.
func RequiredTier(s Style) DetectionTier {
	switch s {
	case StyleOriginal, StyleSplit, StyleLeftFocus, StyleRightFocus, StyleSplitFast:
		return TierNone
	case StyleIntelligent, StyleIntelligentBasic, StyleIntelligentSplit, StyleIntelligentSplitBasic:
		return TierBasic
	case StyleIntelligentMotion, StyleIntelligentSplitMotion:
		return TierMotionAware
	case StyleIntelligentSpeaker, StyleIntelligentSplitSpeaker:
		return TierSpeakerAware
	case StyleIntelligentCinematic:
		return TierCinematic
	default:
		return TierNone
	}
}

// IsTierBearing reports whether a style needs any neural analysis at all:
// its required tier ranks above TierNone, which covers every Intelligent*
// style, including the MotionAware ones.
func IsTierBearing(s Style) bool {
	return RequiredTier(s).SpeedRank() > TierNone.SpeedRank()
}
