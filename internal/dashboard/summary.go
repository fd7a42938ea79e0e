package dashboard

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
)

// 履歴が空のときの表示
const NoMood = "N/A"

// 表示用の履歴エントリ
type Entry struct {
	emotion.EmotionResult
	TimeAgo string `json:"time_ago"`
}

// 感情ごとの割合
type MoodShare struct {
	Emotion    string `json:"emotion"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// おすすめの行動
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// ダッシュボードのサマリー
type Summary struct {
	DominantMood    string           `json:"dominant_mood"`
	Analyzing       bool             `json:"analyzing"`
	Recent          []Entry          `json:"recent"`
	Distribution    []MoodShare      `json:"distribution"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

var defaultRecommendations = []Recommendation{
	{Title: "Take a mindful break", Description: "5-minute breathing exercise", Type: "Activity"},
	{Title: "Listen to calming music", Description: "Classical playlist for focus", Type: "Music"},
	{Title: "Green tea", Description: "Helps with relaxation", Type: "Nutrition"},
}

// 気分ごとの追加のおすすめ
var moodRecommendations = map[string]Recommendation{
	emotion.EmotionSad:     {Title: "Reach out to a friend", Description: "A short conversation can lift your mood", Type: "Social"},
	emotion.EmotionAnxious: {Title: "Try box breathing", Description: "Inhale, hold, exhale and hold for 4 seconds each", Type: "Activity"},
	emotion.EmotionAngry:   {Title: "Step away for a moment", Description: "A short walk helps you reset", Type: "Activity"},
	emotion.EmotionHappy:   {Title: "Keep the momentum", Description: "Write down what made you smile today", Type: "Reflection"},
	emotion.EmotionFocused: {Title: "Protect your focus", Description: "Silence notifications for 25 minutes", Type: "Productivity"},
}

// 新しい順の履歴からサマリーを作る
func BuildSummary(items []emotion.EmotionResult, now time.Time) Summary {
	mood := NoMood
	if len(items) > 0 {
		mood = items[0].Emotion
	}

	recent := make([]Entry, len(items))
	for i, item := range items {
		recent[i] = Entry{EmotionResult: item, TimeAgo: TimeAgo(item.Timestamp, now)}
	}

	return Summary{
		DominantMood:    mood,
		Recent:          recent,
		Distribution:    Distribution(items),
		Recommendations: Recommendations(mood),
		GeneratedAt:     now,
	}
}

// 感情ごとの件数と割合。件数の多い順、同数は名前順
func Distribution(items []emotion.EmotionResult) []MoodShare {
	if len(items) == 0 {
		return []MoodShare{}
	}

	counts := make(map[string]int)
	for _, item := range items {
		counts[item.Emotion]++
	}

	shares := make([]MoodShare, 0, len(counts))
	for name, count := range counts {
		shares = append(shares, MoodShare{
			Emotion:    name,
			Count:      count,
			Percentage: int(math.Round(float64(count) * 100 / float64(len(items)))),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Emotion < shares[j].Emotion
	})
	return shares
}

// 気分に合わせたおすすめを先頭に置いた一覧
func Recommendations(mood string) []Recommendation {
	out := make([]Recommendation, 0, len(defaultRecommendations)+1)
	if r, ok := moodRecommendations[mood]; ok {
		out = append(out, r)
	}
	return append(out, defaultRecommendations...)
}

// 経過時間を "N minutes ago" の形式で返す
func TimeAgo(t, now time.Time) string {
	seconds := int(now.Sub(t) / time.Second)
	switch {
	case seconds < 60:
		return "Just now"
	case seconds < 3600:
		return fmt.Sprintf("%d minutes ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%d hours ago", seconds/3600)
	default:
		return fmt.Sprintf("%d days ago", seconds/86400)
	}
}
