// Пакет breaker — конечный автомат circuit breaker пары (пользователь, интеграция).
//
// Состояния и переходы:
//   - closed → open: число подряд неудач достигло порога
//   - open → half_open: наступил next_retry_at, выдаётся ровно одна пробная попытка
//   - half_open → closed: пробная попытка успешна, счётчик сбрасывается
//   - half_open → open: пробная попытка неудачна или не завершилась к сроку,
//     задержка повтора растёт
//   - любое → closed: принудительно после повторной авторизации
//
// Пакет не хранит состояние сам: функции изменяют переданный
// *model.CircuitBreakerState, сохранение — забота вызывающего (CAS по version).
package breaker

import (
	"fmt"
	"math"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// Policy — параметры breaker.
type Policy struct {
	// Threshold — количество подряд неудач до размыкания.
	Threshold int
	// BaseBackoff — задержка повтора при первом размыкании.
	BaseBackoff time.Duration
	// MaxBackoff — верхняя граница задержки.
	MaxBackoff time.Duration
	// ProbeTimeout — срок пробной попытки. В half_open next_retry_at хранит
	// этот срок; 0 — без срока.
	ProbeTimeout time.Duration
}

// DefaultPolicy — порог 5, задержка от 1 минуты до 6 часов, срок пробной попытки 30 минут.
func DefaultPolicy() Policy {
	return Policy{Threshold: 5, BaseBackoff: time.Minute, MaxBackoff: 6 * time.Hour, ProbeTimeout: 30 * time.Minute}
}

// Backoff возвращает задержку повтора для failureCount подряд неудач:
// BaseBackoff × 2^(failureCount − Threshold), не больше MaxBackoff.
func (p Policy) Backoff(failureCount int) time.Duration {
	exp := failureCount - p.Threshold
	if exp <= 0 {
		return p.BaseBackoff
	}
	// Переполнение float64 невозможно, но Duration — int64: ограничиваем до умножения.
	factor := math.Pow(2, float64(exp))
	if factor >= float64(p.MaxBackoff)/float64(p.BaseBackoff) {
		return p.MaxBackoff
	}
	d := time.Duration(float64(p.BaseBackoff) * factor)
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Decision — решение о допуске попытки синхронизации.
type Decision int

const (
	// Allow — breaker замкнут, попытка разрешена.
	Allow Decision = iota
	// AllowProbe — open → half_open, разрешена единственная пробная попытка.
	AllowProbe
	// DenyOpen — breaker разомкнут, время повтора не наступило.
	DenyOpen
	// DenyProbeInFlight — в half_open пробная попытка уже выдана.
	DenyProbeInFlight
)

// Allowed — разрешена ли попытка.
func (d Decision) Allowed() bool {
	return d == Allow || d == AllowProbe
}

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case AllowProbe:
		return "allow_probe"
	case DenyOpen:
		return "deny_open"
	case DenyProbeInFlight:
		return "deny_probe_in_flight"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Transition — изменение состояния breaker.
type Transition struct {
	From model.BreakerState
	To   model.BreakerState
}

// Changed — изменилось ли состояние.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// validTransitions — матрица допустимых переходов (без принудительного закрытия).
var validTransitions = map[model.BreakerState]map[model.BreakerState]bool{
	model.BreakerClosed:   {model.BreakerOpen: true},
	model.BreakerOpen:     {model.BreakerHalfOpen: true},
	model.BreakerHalfOpen: {model.BreakerClosed: true, model.BreakerOpen: true},
}

// transition переводит st в target, проверяя матрицу переходов.
func transition(st *model.CircuitBreakerState, target model.BreakerState) error {
	if st.State == target {
		return nil
	}
	if !validTransitions[st.State][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", st.State, target),
		}
	}
	st.State = target
	return nil
}

// Acquire решает, можно ли выдать задание jobID.
// При open и наступившем next_retry_at переводит st в half_open и
// закрепляет за jobID пробную попытку до now + ProbeTimeout.
// Просроченная пробная попытка сначала размыкает breaker (ExpireProbe).
func Acquire(st *model.CircuitBreakerState, now time.Time, jobID string, p Policy) (Decision, error) {
	ExpireProbe(st, now, p)

	switch st.State {
	case model.BreakerClosed:
		return Allow, nil

	case model.BreakerOpen:
		if st.NextRetryAt != nil && now.Before(*st.NextRetryAt) {
			return DenyOpen, nil
		}
		if err := transition(st, model.BreakerHalfOpen); err != nil {
			return DenyOpen, err
		}
		st.ProbeJobID = &jobID
		st.NextRetryAt = nil
		if p.ProbeTimeout > 0 {
			deadline := now.Add(p.ProbeTimeout)
			st.NextRetryAt = &deadline
		}
		return AllowProbe, nil

	case model.BreakerHalfOpen:
		return DenyProbeInFlight, nil

	default:
		return DenyOpen, &TransitionError{
			Code:    "INVALID_STATE",
			Message: fmt.Sprintf("неизвестное состояние breaker: %q", st.State),
		}
	}
}

// ExpireProbe размыкает half_open, если пробная попытка не завершилась
// к сроку. Потерянная попытка считается неудачей: задержка повтора
// отсчитывается от срока, поэтому результат не зависит от момента проверки.
func ExpireProbe(st *model.CircuitBreakerState, now time.Time, p Policy) (Transition, bool) {
	tr := Transition{From: st.State, To: st.State}
	if st.State != model.BreakerHalfOpen || st.NextRetryAt == nil || now.Before(*st.NextRetryAt) {
		return tr, false
	}

	deadline := *st.NextRetryAt
	reason := ProbeExpiredReason
	st.State = model.BreakerOpen
	st.ProbeJobID = nil
	st.FailureCount++
	st.LastFailureAt = &deadline
	st.LastFailureReason = &reason
	st.OpenedAt = &deadline
	retry := deadline.Add(p.Backoff(st.FailureCount))
	st.NextRetryAt = &retry

	tr.To = st.State
	return tr, true
}

// ReleaseProbe возвращает half_open в open, если пробная попытка jobID
// не была выдана исполнителю. Неудача не засчитывается, повтор разрешён с now.
func ReleaseProbe(st *model.CircuitBreakerState, jobID string, now time.Time) Transition {
	tr := Transition{From: st.State, To: st.State}
	if st.State != model.BreakerHalfOpen || st.ProbeJobID == nil || *st.ProbeJobID != jobID {
		return tr
	}
	st.State = model.BreakerOpen
	st.ProbeJobID = nil
	st.NextRetryAt = &now

	tr.To = st.State
	return tr
}

// ProbeExpiredReason — причина неудачи для просроченной пробной попытки.
const ProbeExpiredReason = "пробная попытка не завершилась в срок"

// RecordSuccess учитывает успешную попытку.
// В closed сбрасывает счётчик, в half_open замыкает breaker.
// Запоздалый успех в open (задание выдано до размыкания) состояние не меняет.
func RecordSuccess(st *model.CircuitBreakerState) (Transition, error) {
	tr := Transition{From: st.State, To: st.State}

	switch st.State {
	case model.BreakerClosed:
		st.FailureCount = 0
	case model.BreakerHalfOpen:
		if err := transition(st, model.BreakerClosed); err != nil {
			return tr, err
		}
		reset(st)
	case model.BreakerOpen:
		return tr, nil
	}

	tr.To = st.State
	return tr, nil
}

// RecordFailure учитывает неудачную попытку с причиной reason.
func RecordFailure(st *model.CircuitBreakerState, now time.Time, reason string, p Policy) (Transition, error) {
	tr := Transition{From: st.State, To: st.State}

	st.FailureCount++
	st.LastFailureAt = &now
	if reason != "" {
		st.LastFailureReason = &reason
	}

	switch st.State {
	case model.BreakerClosed:
		if st.FailureCount < p.Threshold {
			return tr, nil
		}
		if err := transition(st, model.BreakerOpen); err != nil {
			return tr, err
		}
		st.OpenedAt = &now

	case model.BreakerHalfOpen:
		if err := transition(st, model.BreakerOpen); err != nil {
			return tr, err
		}
		st.ProbeJobID = nil
		st.OpenedAt = &now
	}

	// В open задержка пересчитывается по новому значению счётчика.
	retry := now.Add(p.Backoff(st.FailureCount))
	st.NextRetryAt = &retry

	tr.To = st.State
	return tr, nil
}

// ForceClose замыкает breaker независимо от состояния (после повторной авторизации).
func ForceClose(st *model.CircuitBreakerState) Transition {
	tr := Transition{From: st.State, To: model.BreakerClosed}
	st.State = model.BreakerClosed
	reset(st)
	return tr
}

// reset очищает счётчик и поля размыкания.
func reset(st *model.CircuitBreakerState) {
	st.FailureCount = 0
	st.OpenedAt = nil
	st.NextRetryAt = nil
	st.ProbeJobID = nil
}

// ParseState преобразует строку в BreakerState.
func ParseState(s string) (model.BreakerState, error) {
	switch st := model.BreakerState(s); st {
	case model.BreakerClosed, model.BreakerOpen, model.BreakerHalfOpen:
		return st, nil
	default:
		return "", fmt.Errorf("недопустимое состояние breaker: %q, допустимые: closed, open, half_open", s)
	}
}

// TransitionError — ошибка перехода между состояниями breaker.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, INVALID_STATE)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
