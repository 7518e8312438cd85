package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames on every clock tick. A frozen ticker means the
// TUI itself stopped updating.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// activityDots is the width of the activity meter.
const activityDots = 5

// activityFade is how long one dot stays lit after an event.
const activityFade = 2 * time.Second

// Activity lights up on events and fades one dot per activityFade.
type Activity struct {
	lastEvent time.Time
	count     int
}

func (a *Activity) OnEvent(at time.Time) {
	a.lastEvent = at
	a.count++
}

// Lit returns how many dots are lit at now.
func (a Activity) Lit(now time.Time) int {
	if a.lastEvent.IsZero() {
		return 0
	}
	faded := int(now.Sub(a.lastEvent) / activityFade)
	return max(activityDots-faded, 0)
}

func (a Activity) LastEvent() time.Time { return a.lastEvent }

// Count is the number of events seen since start.
func (a Activity) Count() int { return a.count }

func (a Activity) Render(theme Theme, now time.Time) string {
	lit := a.Lit(now)
	var b strings.Builder
	for i := range activityDots {
		if i < lit {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
