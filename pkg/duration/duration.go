package duration

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Second int64 = 1000
	Minute       = 60 * Second
	Hour         = 60 * Minute
	Day          = 24 * Hour
	Week         = 7 * Day
)

var pattern = regexp.MustCompile(`^(\d+(?:\.\d+)?|\.\d+)([smhdw])$`)

var unitMillis = map[string]int64{
	"s": Second,
	"m": Minute,
	"h": Hour,
	"d": Day,
	"w": Week,
}

// Parse - разбирает строку вида "3d", "1.5h", "2W" в миллисекунды.
// Второе значение false, если строка не подходит под формат "<число><единица>".
// Ограничения по максимуму здесь не проверяются, это политика вызывающего кода.
func Parse(input string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	value, err := decimal.NewFromString(m[1])
	if err != nil {
		return 0, false
	}

	ms := value.Mul(decimal.NewFromInt(unitMillis[m[2]])).Truncate(0)
	if ms.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, false
	}

	return ms.IntPart(), true
}

// MustParse - как Parse, но паникует на неверной строке. Только для констант и тестов.
func MustParse(input string) int64 {
	ms, ok := Parse(input)
	if !ok {
		panic(fmt.Sprintf("duration: invalid value %q", input))
	}
	return ms
}

// Format - выводит длительность одной, самой крупной целой единицей:
// 25 часов -> "1 day", 90 часов -> "3 days". Округление всегда вниз.
func Format(ms int64) string {
	if ms < 0 {
		ms = -ms
	}

	switch {
	case ms >= Week:
		return plural(ms/Week, "week")
	case ms >= Day:
		return plural(ms/Day, "day")
	case ms >= Hour:
		return plural(ms/Hour, "hour")
	case ms >= Minute:
		return plural(ms/Minute, "minute")
	default:
		return plural(ms/Second, "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
