package slides

import (
	"strings"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

// Match strategies in the order they are tried.
const (
	StrategyExact           = "exact"
	StrategyCaseInsensitive = "case_insensitive"
	StrategyNormalized      = "normalized_whitespace"
	StrategySubstring       = "substring"
	StrategyWordOverlap     = "word_overlap"
	StrategyCharacterSet    = "character_set"
)

// MatchConfig holds the acceptance thresholds of the fuzzy strategies.
type MatchConfig struct {
	SubstringThreshold float64
	JaccardThreshold   float64
	CharSetThreshold   float64
	CharSetMinLength   int
}

// DefaultMatchConfig returns the standard thresholds.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		SubstringThreshold: 0.7,
		JaccardThreshold:   0.6,
		CharSetThreshold:   0.5,
		CharSetMinLength:   5,
	}
}

// Similarity scores how well b matches a. It returns 0 and "" when no
// strategy accepts the pair.
func (c MatchConfig) Similarity(a, b string) (float64, string) {
	if a == "" || b == "" {
		return 0, ""
	}
	if a == b {
		return 1.0, StrategyExact
	}
	if strings.EqualFold(a, b) {
		return 0.98, StrategyCaseInsensitive
	}

	na, nb := normalize(a), normalize(b)
	if na == nb {
		return 0.95, StrategyNormalized
	}

	short, long := na, nb
	if runeLen(short) > runeLen(long) {
		short, long = long, short
	}
	if short != "" && strings.Contains(long, short) {
		if ratio := float64(runeLen(short)) / float64(runeLen(long)); ratio > c.SubstringThreshold {
			return ratio, StrategySubstring
		}
	}

	if j := jaccard(strings.Fields(na), strings.Fields(nb)); j > c.JaccardThreshold {
		return j, StrategyWordOverlap
	}

	if runeLen(na) > c.CharSetMinLength && runeLen(nb) > c.CharSetMinLength {
		if j := jaccard(strings.Split(strings.ReplaceAll(na, " ", ""), ""),
			strings.Split(strings.ReplaceAll(nb, " ", ""), "")); j > c.CharSetThreshold {
			return j, StrategyCharacterSet
		}
	}
	return 0, ""
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, x := range a {
		set[x] |= 1
	}
	for _, x := range b {
		set[x] |= 2
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

// Validator cross-checks extracted text positions against rendered SVG text.
type Validator struct {
	cfg MatchConfig
}

// NewValidator creates a validator with the given thresholds.
func NewValidator(cfg MatchConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate updates shapes in place and returns how many were matched.
// nativeW and nativeH are the slide size in EMU. Matched shapes take their x
// and y from the SVG, mapped back to EMU; everything else keeps the extracted
// coordinates.
func (v *Validator) Validate(shapes []domain.Shape, svg *SVGDocument, nativeW, nativeH float64) int {
	for i := range shapes {
		shapes[i].Validation = domain.Validation{SourceOfTruth: domain.SourceExtracted}
	}
	if svg == nil || len(svg.Texts) == 0 || nativeW <= 0 || nativeH <= 0 {
		return 0
	}
	vw, vh := svg.ViewportSize()
	if vw <= 0 || vh <= 0 {
		return 0
	}
	scaleX, scaleY := vw/nativeW, vh/nativeH
	offX, offY := svg.Offset()

	matched := 0
	for i := range shapes {
		s := &shapes[i]
		if s.Text == nil {
			continue
		}
		best, score, strategy := v.bestMatch(s.Text.Text, svg.Texts)
		if best == nil {
			continue
		}
		s.BoundingBox.X = (best.X - offX) / scaleX
		s.BoundingBox.Y = (best.Y - offY) / scaleY
		s.Validation = domain.Validation{
			Score:         score,
			Matched:       true,
			Strategy:      strategy,
			SourceOfTruth: domain.SourceValidated,
		}
		matched++
	}
	return matched
}

func (v *Validator) bestMatch(text string, candidates []SVGText) (*SVGText, float64, string) {
	var (
		best     *SVGText
		score    float64
		strategy string
	)
	for i := range candidates {
		sc, st := v.cfg.Similarity(text, candidates[i].Text)
		if sc > score {
			best, score, strategy = &candidates[i], sc, st
			if sc == 1.0 {
				break
			}
		}
	}
	return best, score, strategy
}
