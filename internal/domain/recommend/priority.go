// Пакет recommend — ранжирование и подбор предложений для общения.
//
// Приоритет контакта: base × exp(−daysSinceLastContact / thresholdDays).
// Групповые кандидаты (2–3 контакта) оцениваются по общему контексту:
// группы, теги, совместные упоминания в голосовых заметках и недавние
// совместные взаимодействия. Итоговый набор балансируется жадно:
// ни один контакт не попадает в прогон дважды.
package recommend

import (
	"math"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// defaultThresholdDays — порог для контактов без заданной периодичности.
const defaultThresholdDays = 30

// sharedActivityWeight — доля базового балла, добавляемая при общем контексте 100.
const sharedActivityWeight = 0.25

// ThresholdDays возвращает порог давности в днях для периодичности.
func ThresholdDays(c model.Cadence) float64 {
	switch c {
	case model.CadenceWeekly:
		return 7
	case model.CadenceBiweekly:
		return 14
	case model.CadenceMonthly:
		return 30
	case model.CadenceQuarterly:
		return 90
	case model.CadenceYearly:
		return 365
	default:
		return defaultThresholdDays
	}
}

// CircleWeight возвращает вес круга общения.
func CircleWeight(c model.Circle) float64 {
	switch c {
	case model.CircleInner:
		return 1.0
	case model.CircleClose:
		return 0.8
	case model.CircleRegular:
		return 0.6
	case model.CircleAcquaintance:
		return 0.4
	default:
		return 0.5
	}
}

// BaseScore — базовый балл контакта.
func BaseScore(c model.Contact) float64 {
	return 100 * CircleWeight(c.Circle)
}

// WithSharedActivity увеличивает базовый балл пропорционально общему контексту.
func WithSharedActivity(base float64, sharedScore int) float64 {
	return base * (1 + sharedActivityWeight*float64(sharedScore)/100)
}

// Priority — экспоненциальное затухание базового балла с давностью контакта.
func Priority(base, daysSince, thresholdDays float64) float64 {
	if thresholdDays <= 0 {
		thresholdDays = defaultThresholdDays
	}
	if daysSince < 0 {
		daysSince = 0
	}
	return base * math.Exp(-daysSince/thresholdDays)
}

// DaysSince — дней с последнего контакта; без истории считается равным порогу.
func DaysSince(last *time.Time, now time.Time, thresholdDays float64) float64 {
	if last == nil {
		return thresholdDays
	}
	d := now.Sub(*last).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// contactThreshold — порог давности контакта.
func contactThreshold(c model.Contact) float64 {
	if c.Cadence == nil {
		return defaultThresholdDays
	}
	return ThresholdDays(*c.Cadence)
}

// IndividualPriority — приоритет индивидуального предложения для контакта.
func IndividualPriority(c model.Contact, now time.Time) float64 {
	threshold := contactThreshold(c)
	return Priority(BaseScore(c), DaysSince(c.LastContactAt, now, threshold), threshold)
}

// GroupPriority — средний приоритет участников с бонусом общего контекста.
func GroupPriority(members []model.Contact, sharedScore int, now time.Time) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		threshold := contactThreshold(m)
		base := WithSharedActivity(BaseScore(m), sharedScore)
		sum += Priority(base, DaysSince(m.LastContactAt, now, threshold), threshold)
	}
	return sum / float64(len(members))
}
