package clock

import (
	"fmt"
	"sync"
	"time"

	// コンテナイメージにzoneinfoがなくてもAsia/Seoulを解決できるようにする
	_ "time/tzdata"
)

// DefaultTimezone は運用上の基準タイムゾーンです
const DefaultTimezone = "Asia/Seoul"

// Clock は現在時刻の取得を抽象化します。Nowは常に基準タイムゾーンの時刻を返します
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// LoadLocation はタイムゾーン名を解決します
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", name, err)
	}
	return loc, nil
}

type realClock struct {
	loc *time.Location
}

// NewReal は実時間の時計を返します
func NewReal(loc *time.Location) Clock {
	return &realClock{loc: loc}
}

func (c *realClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c *realClock) Location() *time.Location { return c.loc }

// Fake はテスト用の手動で進める時計です
type Fake struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewFake は指定時刻で止まった時計を返します
func NewFake(now time.Time, loc *time.Location) *Fake {
	return &Fake{now: now.In(loc), loc: loc}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location { return f.loc }

// Set は現在時刻を変更します
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now.In(f.loc)
}

// Advance は現在時刻を進めます
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Seoul はAsia/Seoulを返します。解決できない場合はpanicします(tzdataを埋め込んでいるため発生しません)
func Seoul() *time.Location {
	loc, err := LoadLocation(DefaultTimezone)
	if err != nil {
		panic(err)
	}
	return loc
}
