// Package markethours 判断股票市场是否处于交易时段，Cross-Chain Access 场所据此放行交易。
package markethours

import (
	"fmt"
	"strings"
	"time"

	"rwa-trader/internal/config"
)

const dateLayout = "2006-01-02"

// Calendar 描述工作日交易时段。
type Calendar struct {
	open     time.Duration // 自当日零点起的偏移
	close    time.Duration
	loc      *time.Location
	holidays map[string]struct{}
	now      func() time.Time
}

// New 根据配置创建交易日历。
func New(cfg config.MarketHoursConfig) (*Calendar, error) {
	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("markethours: 解析开盘时间失败: %w", err)
	}
	closing, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("markethours: 解析收盘时间失败: %w", err)
	}
	if closing <= open {
		return nil, fmt.Errorf("markethours: 收盘时间 %s 必须晚于开盘时间 %s", cfg.Close, cfg.Open)
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("markethours: 加载时区 %q 失败: %w", tz, err)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, day := range cfg.Holidays {
		day = strings.TrimSpace(day)
		if _, err := time.Parse(dateLayout, day); err != nil {
			return nil, fmt.Errorf("markethours: 无效休市日 %q: %w", day, err)
		}
		holidays[day] = struct{}{}
	}

	return &Calendar{
		open:     open,
		close:    closing,
		loc:      loc,
		holidays: holidays,
		now:      time.Now,
	}, nil
}

// IsOpen 判断 t 时刻是否开市。
func (c *Calendar) IsOpen(t time.Time) bool {
	open, _ := c.StatusAt(t)
	return open
}

// Status 返回当前开市状态及说明。
func (c *Calendar) Status() (bool, string) {
	return c.StatusAt(c.now())
}

// StatusAt 返回 t 时刻的开市状态及说明。
func (c *Calendar) StatusAt(t time.Time) (bool, string) {
	local := t.In(c.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	offset := local.Sub(midnight)

	if !c.tradingDay(local) {
		next := c.NextOpen(t)
		return false, fmt.Sprintf("休市日，下次开盘 %s", next.Format(time.RFC3339))
	}
	if offset < c.open {
		return false, fmt.Sprintf("尚未开盘，开盘时间 %s", midnight.Add(c.open).Format(time.RFC3339))
	}
	if offset >= c.close {
		next := c.NextOpen(t)
		return false, fmt.Sprintf("已收盘，下次开盘 %s", next.Format(time.RFC3339))
	}
	return true, fmt.Sprintf("交易中，收盘时间 %s", midnight.Add(c.close).Format(time.RFC3339))
}

// NextOpen 返回 t 之后（含 t 当日未开盘的情况）的下一个开盘时刻。
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < 30; i++ {
		candidate := day.Add(c.open)
		if c.tradingDay(day) && candidate.After(local) {
			return candidate
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

func (c *Calendar) tradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format(dateLayout)]
	return !holiday
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
