// Package health отдаёт состояние сервиса по HTTP: /healthz с подробностями,
// /readyz для балансировщика и /livez для оркестратора.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// severity упорядочивает статусы: общий статус равен худшему из компонентов.
func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check — результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check() Check
}

// Handler собирает проверки компонентов.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// runChecks выполняет все проверки параллельно и возвращает их результаты с общим статусом.
func (h *Handler) runChecks() (map[string]Check, Status) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]Check, len(checkers))
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			check := checker.Check()
			mu.Lock()
			checks[name] = check
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}
	return checks, overall
}

// ServeHTTP отвечает JSON с результатами всех проверок.
// Degraded остаётся 200: сервис обслуживает запросы, но требует внимания.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checks, overall := h.runChecks()

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// LivenessHandler всегда отвечает 200: процесс жив, пока отвечает.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, если хотя бы один компонент unhealthy.
// Имена упавших компонентов передаются в заголовке X-Failed-Checks.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	checks, overall := h.runChecks()
	if overall != StatusUnhealthy {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}

	var failed []string
	for name, check := range checks {
		if check.Status == StatusUnhealthy {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	w.Header().Set("X-Failed-Checks", strings.Join(failed, ","))
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// SimpleChecker — проверка вида «ошибка значит unhealthy».
type SimpleChecker struct {
	name    string
	checkFn func() error
}

func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{name: name, checkFn: checkFn}
}

func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()

	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// ThresholdChecker сообщает degraded, когда наблюдаемое значение превышает порог.
// Используется для backlog outbox.
type ThresholdChecker struct {
	name    string
	valueFn func() (int, error)
	limit   int
}

// NewThresholdChecker создаёт проверку по порогу. limit <= 0 отключает сравнение.
func NewThresholdChecker(name string, valueFn func() (int, error), limit int) *ThresholdChecker {
	return &ThresholdChecker{name: name, valueFn: valueFn, limit: limit}
}

func (c *ThresholdChecker) Check() Check {
	start := time.Now()
	value, err := c.valueFn()

	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	case c.limit > 0 && value > c.limit:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d exceeds limit %d", value, c.limit)
	}
	return check
}
