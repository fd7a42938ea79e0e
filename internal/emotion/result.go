package emotion

import (
	"math"
	"strings"
	"time"
)

// 結果の出所
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// 1回の分析結果
type EmotionResult struct {
	Emotion    string    `json:"emotion"`
	Confidence int       `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Source     Source    `json:"source"`
}

// 表示用の感情名
const (
	EmotionHappy      = "Happy"
	EmotionSad        = "Sad"
	EmotionAngry      = "Angry"
	EmotionAnxious    = "Anxious"
	EmotionSurprised  = "Surprised"
	EmotionDisgusted  = "Disgusted"
	EmotionCalm       = "Calm"
	EmotionFocused    = "Focused"
	EmotionThoughtful = "Thoughtful"
)

// モデルのラベルから表示名への対応表
var labelVocabulary = map[string]string{
	"joy":      EmotionHappy,
	"sadness":  EmotionSad,
	"anger":    EmotionAngry,
	"fear":     EmotionAnxious,
	"surprise": EmotionSurprised,
	"disgust":  EmotionDisgusted,
	"neutral":  EmotionCalm,
}

// フォールバック時に選ばれる感情
var fallbackEmotions = []string{EmotionHappy, EmotionCalm, EmotionFocused, EmotionThoughtful}

// フォールバック時の信頼度は[60, 80)
const (
	fallbackConfidenceMin  = 60
	fallbackConfidenceSpan = 20
)

// モデルのラベルを表示名に変換する。未知のラベルはそのまま返す
func MapLabel(label string) string {
	if mapped, ok := labelVocabulary[strings.ToLower(label)]; ok {
		return mapped
	}
	return label
}

// 表示名の一覧（マッピング済みの語彙）
func Vocabulary() []string {
	return []string{EmotionHappy, EmotionSad, EmotionAngry, EmotionAnxious, EmotionSurprised, EmotionDisgusted, EmotionCalm}
}

// フォールバックで使われる感情の一覧
func FallbackEmotions() []string {
	out := make([]string, len(fallbackEmotions))
	copy(out, fallbackEmotions)
	return out
}

// スコアを0〜100の整数パーセントに変換する
func ToConfidence(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	c := int(math.Round(score * 100))
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}
