// Пакет frequency — адаптивная политика частоты синхронизации.
//
// Правила:
//   - неудача: частота не меняется
//   - успех без изменений: счётчик серии растёт; на каждом кратном StepThreshold
//     значении интервал умножается на GrowthFactor (не выше MaxFrequency)
//   - успех с изменениями: счётчик обнуляется, интервал возвращается к
//     DefaultFrequency (в onboarding — к OnboardingFrequency)
//   - onboarding: после подключения интервал короткий, рост подавлен;
//     по окончании окна восстанавливается DefaultFrequency
//
// Инвариант min ≤ current ≤ max соблюдается после любой операции.
package frequency

import (
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// Policy — параметры адаптивной частоты.
type Policy struct {
	StepThreshold       int
	GrowthFactor        float64
	OnboardingFrequency time.Duration
	OnboardingWindow    time.Duration
}

// DefaultPolicy — шаг 3, множитель 2, onboarding 15 минут на 24 часа.
func DefaultPolicy() Policy {
	return Policy{
		StepThreshold:       3,
		GrowthFactor:        2.0,
		OnboardingFrequency: 15 * time.Minute,
		OnboardingWindow:    24 * time.Hour,
	}
}

// Outcome — классификация результата синхронизации для политики.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeNoChange
	OutcomeChanged
)

// Clamp ограничивает d диапазоном [minD, maxD].
func Clamp(d, minD, maxD time.Duration) time.Duration {
	if d < minD {
		return minD
	}
	if d > maxD {
		return maxD
	}
	return d
}

// Initialize настраивает новое расписание при первом подключении:
// короткий интервал onboarding и немедленная первая синхронизация.
func (p Policy) Initialize(s *model.SyncSchedule, now time.Time) {
	until := now.Add(p.OnboardingWindow)
	s.OnboardingUntil = &until
	s.CurrentFrequency = Clamp(p.OnboardingFrequency, s.MinFrequency, s.MaxFrequency)
	s.ConsecutiveNoChangeCount = 0
	s.FirstSyncPending = true
	s.NextSyncAt = now
}

// Apply пересчитывает частоту и следующее время синхронизации по результату.
func (p Policy) Apply(s *model.SyncSchedule, outcome Outcome, now time.Time) {
	p.finishOnboarding(s, now)
	onboarding := s.InOnboarding(now)

	switch outcome {
	case OutcomeFailure:
		// Частота не меняется, неудачи учитывает circuit breaker

	case OutcomeNoChange:
		s.ConsecutiveNoChangeCount++
		if !onboarding && p.StepThreshold > 0 && s.ConsecutiveNoChangeCount%p.StepThreshold == 0 {
			s.CurrentFrequency = p.grow(s.CurrentFrequency, s.MaxFrequency)
		}
		s.LastSyncAt = &now

	case OutcomeChanged:
		s.ConsecutiveNoChangeCount = 0
		if onboarding {
			s.CurrentFrequency = p.OnboardingFrequency
		} else {
			s.CurrentFrequency = s.DefaultFrequency
		}
		s.LastSyncAt = &now
	}

	s.CurrentFrequency = Clamp(s.CurrentFrequency, s.MinFrequency, s.MaxFrequency)
	s.NextSyncAt = now.Add(s.CurrentFrequency)
}

// Restore возвращает расписание к частоте по умолчанию (после повторной авторизации).
func (p Policy) Restore(s *model.SyncSchedule, now time.Time) {
	p.finishOnboarding(s, now)
	s.ConsecutiveNoChangeCount = 0
	if s.InOnboarding(now) {
		s.CurrentFrequency = Clamp(p.OnboardingFrequency, s.MinFrequency, s.MaxFrequency)
	} else {
		s.CurrentFrequency = Clamp(s.DefaultFrequency, s.MinFrequency, s.MaxFrequency)
	}
	s.NextSyncAt = now
}

// finishOnboarding завершает истёкший период onboarding.
func (p Policy) finishOnboarding(s *model.SyncSchedule, now time.Time) {
	if s.OnboardingUntil == nil || now.Before(*s.OnboardingUntil) {
		return
	}
	s.OnboardingUntil = nil
	s.CurrentFrequency = s.DefaultFrequency
	s.ConsecutiveNoChangeCount = 0
}

// grow умножает интервал на GrowthFactor с ограничением сверху.
func (p Policy) grow(current, maxD time.Duration) time.Duration {
	next := float64(current) * p.GrowthFactor
	if next >= float64(maxD) {
		return maxD
	}
	return time.Duration(next)
}
