package poller

import (
	"math"
	"time"
)

// 官方日出日落天顶角（含大气折射与日面半径）
const officialZenith = 90.833

// 日出后/日落前这段时间内的失败按 info 记录（逆变器刚唤醒或即将休眠）
const twilightWindow = 30 * time.Minute

// SunTimes 某日的日出日落（本地时区）
type SunTimes struct {
	Rise time.Time
	Set  time.Time
	// AlwaysUp 极昼；AlwaysDown 极夜
	AlwaysUp   bool
	AlwaysDown bool
}

// Daylight 按经纬度判断是否处于可轮询时段
type Daylight struct {
	Latitude  float64
	Longitude float64
	// Offset 日出前/日落后额外放宽的时间
	Offset time.Duration
}

// NewDaylight lat=lon=0 视为未配置，返回 nil（不做限制）
func NewDaylight(lat, lon float64, offset time.Duration) *Daylight {
	if lat == 0 && lon == 0 {
		return nil
	}
	return &Daylight{Latitude: lat, Longitude: lon, Offset: offset}
}

// Sun 计算 day 所在本地日期的日出日落
func (d *Daylight) Sun(day time.Time) SunTimes {
	var st SunTimes
	rise, ok, up := sunEvent(day, d.Latitude, d.Longitude, true)
	if !ok {
		st.AlwaysUp, st.AlwaysDown = up, !up
		return st
	}
	set, _, _ := sunEvent(day, d.Latitude, d.Longitude, false)
	st.Rise, st.Set = rise, set
	return st
}

// Allowed 处于 [日出-Offset, 日落+Offset] 之间；nil 时总是允许
func (d *Daylight) Allowed(now time.Time) bool {
	if d == nil {
		return true
	}
	st := d.Sun(now)
	switch {
	case st.AlwaysUp:
		return true
	case st.AlwaysDown:
		return false
	}
	return !now.Before(st.Rise.Add(-d.Offset)) && !now.After(st.Set.Add(d.Offset))
}

// Twilight 是否处于日出后/日落前的过渡时段
func (d *Daylight) Twilight(now time.Time) bool {
	if d == nil {
		return false
	}
	st := d.Sun(now)
	if st.AlwaysUp || st.AlwaysDown {
		return false
	}
	return now.Before(st.Rise.Add(twilightWindow)) || now.After(st.Set.Add(-twilightWindow))
}

// sunEvent 返回本地日期 day 的日出（rising）或日落时刻。
// ok=false 表示当天不发生，此时 up 表示太阳整天在地平线上。
func sunEvent(day time.Time, lat, lon float64, rising bool) (t time.Time, ok, up bool) {
	loc := day.Location()
	y, m, dd := day.Date()
	n := float64(time.Date(y, m, dd, 0, 0, 0, 0, time.UTC).YearDay())

	lngHour := lon / 15
	approx := n + (18-lngHour)/24
	if rising {
		approx = n + (6-lngHour)/24
	}

	meanAnomaly := 0.9856*approx - 3.289
	trueLong := normalize(meanAnomaly+1.916*sinDeg(meanAnomaly)+0.020*sinDeg(2*meanAnomaly)+282.634, 360)

	ra := normalize(degrees(math.Atan(0.91764*tanDeg(trueLong))), 360)
	ra += math.Floor(trueLong/90)*90 - math.Floor(ra/90)*90
	ra /= 15

	sinDec := 0.39782 * sinDeg(trueLong)
	cosDec := math.Cos(math.Asin(sinDec))
	cosH := (cosDeg(officialZenith) - sinDec*sinDeg(lat)) / (cosDec * cosDeg(lat))
	if cosH > 1 {
		return time.Time{}, false, false
	}
	if cosH < -1 {
		return time.Time{}, false, true
	}

	h := degrees(math.Acos(cosH))
	if rising {
		h = 360 - h
	}
	h /= 15

	local := h + ra - 0.06571*approx - 6.622
	ut := normalize(local-lngHour, 24)

	t = time.Date(y, m, dd, 0, 0, 0, 0, time.UTC).Add(time.Duration(ut * float64(time.Hour))).In(loc)
	// UT 跨日时校正回请求的本地日期
	if ty, tm, td := t.Date(); ty != y || tm != m || td != dd {
		if t.Before(time.Date(y, m, dd, 0, 0, 0, 0, loc)) {
			t = t.Add(24 * time.Hour)
		} else {
			t = t.Add(-24 * time.Hour)
		}
	}
	return t, true, false
}

func normalize(v, period float64) float64 {
	v = math.Mod(v, period)
	if v < 0 {
		v += period
	}
	return v
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
func sinDeg(d float64) float64    { return math.Sin(d * math.Pi / 180) }
func cosDeg(d float64) float64    { return math.Cos(d * math.Pi / 180) }
func tanDeg(d float64) float64    { return math.Tan(d * math.Pi / 180) }
