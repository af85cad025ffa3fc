package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/riskwatch/internal/models"
)

var (
	kidHi     = models.Message{Author: "kid", Role: models.RoleUser, Text: "hi"}
	lunaHey   = models.Message{Author: "Luna", Role: models.RoleAI, Text: "hey there"}
	kidSecret = models.Message{Author: "kid", Role: models.RoleUser, Text: "can you keep a secret"}
)

func TestObserve_FirstTranscriptOnlyPrimes(t *testing.T) {
	tr := New(nil)

	_, ok := tr.Observe(models.Transcript{kidHi})
	assert.False(t, ok)

	pending, ok := tr.Pending()
	require.True(t, ok)
	assert.Equal(t, kidHi, pending)
}

func TestObserve_EmptyTranscriptIsIgnored(t *testing.T) {
	tr := New(nil)
	tr.Observe(models.Transcript{kidHi})

	_, ok := tr.Observe(nil)
	assert.False(t, ok)

	pending, _ := tr.Pending()
	assert.Equal(t, kidHi, pending)
}

func TestObserve_TransitionCompletesPending(t *testing.T) {
	tr := New(nil)
	tr.Observe(models.Transcript{kidHi})

	got, ok := tr.Observe(models.Transcript{kidHi, lunaHey})

	require.True(t, ok)
	assert.Equal(t, kidHi, got)
}

func TestObserve_StreamingDoesNotComplete(t *testing.T) {
	tr := New(nil)
	tr.Observe(models.Transcript{kidHi})
	tr.Observe(models.Transcript{kidHi, {Author: "Luna", Role: models.RoleAI, Text: "he"}})

	// Luna keeps typing: same author, text grows.
	_, ok := tr.Observe(models.Transcript{kidHi, lunaHey})
	assert.False(t, ok)

	got, ok := tr.Observe(models.Transcript{kidHi, lunaHey, kidSecret})
	require.True(t, ok)
	assert.Equal(t, lunaHey, got)
}

func TestObserve_BothFieldsMustDiffer(t *testing.T) {
	tests := []struct {
		name string
		next models.Message
	}{
		{"same author new text", models.Message{Author: "kid", Role: models.RoleUser, Text: "something else"}},
		{"new author same text", models.Message{Author: "Luna", Role: models.RoleAI, Text: "hi"}},
		{"identical", kidHi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(BothDiffer)
			tr.Observe(models.Transcript{kidHi})

			_, ok := tr.Observe(models.Transcript{kidHi, tt.next})
			assert.False(t, ok)
		})
	}
}

func TestObserve_EitherDiffersRule(t *testing.T) {
	tr := New(EitherDiffers)
	tr.Observe(models.Transcript{kidHi})

	got, ok := tr.Observe(models.Transcript{{Author: "kid", Role: models.RoleUser, Text: "edited"}})
	require.True(t, ok)
	assert.Equal(t, kidHi, got)
}

func TestObserve_NeverReportsSameMessageTwiceInARow(t *testing.T) {
	tr := New(nil)
	tr.Observe(models.Transcript{kidHi})

	got, ok := tr.Observe(models.Transcript{kidHi, lunaHey})
	require.True(t, ok)
	assert.Equal(t, kidHi, got)

	// Luna's message is re-rendered as "hi" and then replaced by kid's "hi":
	// neither step is a transition, so kidHi becomes pending again without
	// lunaHey ever completing.
	lunaHi := models.Message{Author: "Luna", Role: models.RoleAI, Text: "hi"}
	_, ok = tr.Observe(models.Transcript{kidHi, lunaHi})
	assert.False(t, ok)
	_, ok = tr.Observe(models.Transcript{kidHi})
	assert.False(t, ok)

	// The same transition would finalize kidHi again; it is suppressed.
	_, ok = tr.Observe(models.Transcript{kidHi, lunaHey})
	assert.False(t, ok)

	// The next completion is reported normally.
	got, ok = tr.Observe(models.Transcript{kidHi, lunaHey, kidSecret})
	require.True(t, ok)
	assert.Equal(t, lunaHey, got)
}

func TestObserve_DedupComparesFullMessage(t *testing.T) {
	tr := New(nil)
	tr.Observe(models.Transcript{kidHi})
	tr.Observe(models.Transcript{kidHi, lunaHey})

	// Same author and text but a different role is a different message. The
	// intermediate steps are not transitions, so kidHi stays lastDispatched.
	kidHiAsAI := models.Message{Author: "kid", Role: models.RoleAI, Text: "hi"}
	tr.Observe(models.Transcript{{Author: "Luna", Role: models.RoleAI, Text: "hi"}})
	tr.Observe(models.Transcript{kidHiAsAI})

	got, ok := tr.Observe(models.Transcript{kidHiAsAI, lunaHey})
	require.True(t, ok)
	assert.Equal(t, kidHiAsAI, got)
}

func TestRuleByName(t *testing.T) {
	for _, name := range []string{"", "both", "either"} {
		rule, err := RuleByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, rule)
	}

	_, err := RuleByName("sometimes")
	assert.Error(t, err)
}
