package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
)

func result(name string) emotion.EmotionResult {
	return emotion.EmotionResult{Emotion: name, Confidence: 70, Timestamp: baseTime}
}

func TestHistory(t *testing.T) {
	t.Run("既定の容量", func(t *testing.T) {
		h := NewHistory(0)
		assert.Equal(t, DefaultHistoryCapacity, h.Capacity())
		_, ok := h.Latest()
		assert.False(t, ok)
	})

	t.Run("件数はmin(容量, 追加数)", func(t *testing.T) {
		for n := 0; n <= 8; n++ {
			h := NewHistory(5)
			for i := 0; i < n; i++ {
				h.Add(result(string(rune('a' + i))))
			}
			assert.Equal(t, min(5, n), h.Len(), "n=%d", n)
		}
	})

	t.Run("新しい順", func(t *testing.T) {
		h := NewHistory(3)
		assert.Equal(t, 1, h.Add(result("a")))
		h.Add(result("b"))
		h.Add(result("c"))
		assert.Equal(t, 3, h.Add(result("d")))

		items := h.Items()
		assert.Equal(t, "d", items[0].Emotion)
		assert.Equal(t, "b", items[2].Emotion)

		latest, ok := h.Latest()
		require.True(t, ok)
		assert.Equal(t, "d", latest.Emotion)
	})

	t.Run("Itemsはコピーを返す", func(t *testing.T) {
		h := NewHistory(2)
		h.Add(result("a"))
		items := h.Items()
		items[0].Emotion = "changed"
		assert.Equal(t, "a", h.Items()[0].Emotion)
	})

	t.Run("容量の拡大と縮小", func(t *testing.T) {
		h := NewHistory(2)
		h.Add(result("a"))
		h.Add(result("b"))
		h.Add(result("c"))
		assert.Equal(t, 2, h.Len())

		h.SetCapacity(4)
		h.Add(result("d"))
		h.Add(result("e"))
		assert.Equal(t, 4, h.Len())

		assert.Equal(t, 1, h.SetCapacity(1))
		assert.Equal(t, "e", h.Items()[0].Emotion)

		h.Clear()
		assert.Equal(t, 0, h.Len())
	})
}

func TestTimeAgo(t *testing.T) {
	now := baseTime
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "Just now"},
		{59 * time.Second, "Just now"},
		{60 * time.Second, "1 minutes ago"},
		{59 * time.Minute, "59 minutes ago"},
		{time.Hour, "1 hours ago"},
		{23*time.Hour + 59*time.Minute, "23 hours ago"},
		{24 * time.Hour, "1 days ago"},
		{72 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TimeAgo(now.Add(-tt.ago), now), tt.ago.String())
	}
}

func TestDistribution(t *testing.T) {
	assert.Empty(t, Distribution(nil))

	shares := Distribution([]emotion.EmotionResult{
		result(emotion.EmotionCalm),
		result(emotion.EmotionHappy),
		result(emotion.EmotionCalm),
	})
	require.Len(t, shares, 2)
	assert.Equal(t, MoodShare{Emotion: emotion.EmotionCalm, Count: 2, Percentage: 67}, shares[0])
	assert.Equal(t, MoodShare{Emotion: emotion.EmotionHappy, Count: 1, Percentage: 33}, shares[1])

	tie := Distribution([]emotion.EmotionResult{result("Sad"), result("Angry")})
	assert.Equal(t, "Angry", tie[0].Emotion)
}

func TestRecommendations(t *testing.T) {
	base := Recommendations(NoMood)
	require.Len(t, base, 3)
	assert.Equal(t, "Take a mindful break", base[0].Title)

	anxious := Recommendations(emotion.EmotionAnxious)
	require.Len(t, anxious, 4)
	assert.Equal(t, "Try box breathing", anxious[0].Title)
	assert.Equal(t, base, anxious[1:])
}

func TestBuildSummary(t *testing.T) {
	items := []emotion.EmotionResult{
		{Emotion: emotion.EmotionHappy, Confidence: 88, Timestamp: baseTime.Add(-2 * time.Hour)},
		{Emotion: emotion.EmotionCalm, Confidence: 71, Timestamp: baseTime.Add(-3 * 24 * time.Hour)},
	}

	s := BuildSummary(items, baseTime)
	assert.Equal(t, emotion.EmotionHappy, s.DominantMood)
	require.Len(t, s.Recent, 2)
	assert.Equal(t, "2 hours ago", s.Recent[0].TimeAgo)
	assert.Equal(t, "3 days ago", s.Recent[1].TimeAgo)
	assert.Equal(t, 88, s.Recent[0].Confidence)
	assert.Len(t, s.Distribution, 2)
	assert.Equal(t, "Keep the momentum", s.Recommendations[0].Title)
}
