package badger

import (
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// storeLogger routes Badger's internal logging (compactions, value log GC)
// through the relay's zap logger so the nonce store does not write to stderr
// on its own.
type storeLogger struct {
	logger *zap.Logger
}

var _ badgerdb.Logger = (*storeLogger)(nil)

func (s *storeLogger) Errorf(format string, args ...interface{}) {
	s.logger.Error(fmt.Sprintf(format, args...))
}

func (s *storeLogger) Warningf(format string, args ...interface{}) {
	s.logger.Warn(fmt.Sprintf(format, args...))
}

func (s *storeLogger) Infof(format string, args ...interface{}) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

func (s *storeLogger) Debugf(format string, args ...interface{}) {
	s.logger.Debug(fmt.Sprintf(format, args...))
}
