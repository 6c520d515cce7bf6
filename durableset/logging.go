package durableset

import "github.com/go-kit/kit/log"

// LoggingSet wraps a Set[T], logging every operation's arguments and
// outcome through a go-kit/log.Logger while delegating the actual work
// unchanged, mirroring the teacher pack's metrics-decorator idiom
// (distributor/metrics.go) one layer up: the decorator implements the same
// interface it wraps and only adds observability around each call.
type LoggingSet[T any] struct {
	inner  Set[T]
	logger log.Logger
}

// NewLoggingSet wraps inner with operation logging through logger.
func NewLoggingSet[T any](inner Set[T], logger log.Logger) *LoggingSet[T] {
	return &LoggingSet[T]{inner: inner, logger: logger}
}

func (s *LoggingSet[T]) Insert(key int64, item T, writerID int) bool {
	ok := s.inner.Insert(key, item, writerID)
	s.logger.Log("op", "insert", "key", key, "writer_id", writerID, "inserted", ok)
	return ok
}

func (s *LoggingSet[T]) Remove(key int64) bool {
	ok := s.inner.Remove(key)
	s.logger.Log("op", "remove", "key", key, "removed", ok)
	return ok
}

func (s *LoggingSet[T]) Contains(key int64) bool {
	ok := s.inner.Contains(key)
	s.logger.Log("op", "contains", "key", key, "present", ok)
	return ok
}

func (s *LoggingSet[T]) Recover(newBudget []int) RecoverReport {
	report := s.inner.Recover(newBudget)
	s.logger.Log("op", "recover",
		"volatile_before", len(report.VolatileKeysBefore),
		"durable_keys", len(report.DurableKeys),
	)
	return report
}

func (s *LoggingSet[T]) Free() {
	s.inner.Free()
	s.logger.Log("op", "free")
}
