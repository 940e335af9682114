package astimuxer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockedLogger struct {
	m    *sync.Mutex
	msgs map[string]int
}

func newMockedLogger() *mockedLogger {
	return &mockedLogger{
		m:    &sync.Mutex{},
		msgs: make(map[string]int),
	}
}

func (l *mockedLogger) Fatal(v ...interface{}) {
	l.m.Lock()
	defer l.m.Unlock()
	l.msgs[fmt.Sprint(v...)]++
	os.Exit(1)
}
func (l *mockedLogger) Fatalf(format string, v ...interface{}) {
	l.m.Lock()
	defer l.m.Unlock()
	l.msgs[fmt.Sprintf(format, v...)]++
	os.Exit(1)
}
func (l *mockedLogger) Print(v ...interface{}) {
	l.m.Lock()
	defer l.m.Unlock()
	l.msgs[fmt.Sprint(v...)]++
}
func (l *mockedLogger) Printf(format string, v ...interface{}) {
	l.m.Lock()
	defer l.m.Unlock()
	l.msgs[fmt.Sprintf(format, v...)]++
}

func (l *mockedLogger) count(msg string) int {
	l.m.Lock()
	defer l.m.Unlock()
	return l.msgs[msg]
}

func TestEventLogger(t *testing.T) {
	ml := newMockedLogger()
	l := newEventLogger(ml)
	WithMessageMerging(500*time.Millisecond)(nil, l)
	l.Start(context.Background())
	l.Errorf("errorf-%d", 1)
	l.Errorf("errorf-%d", 1)
	l.Errorf("errorf-%d", 2)
	l.Infof("infof-%d", 3)
	l.Infof("infof-%d", 3)
	l.Infof("infof-%d", 3)
	l.Warnf("errorf-%d", 1)
	l.errork("astimuxer: backend error", "open failed")
	l.errork("astimuxer: backend error", "write failed")
	l.errork("astimuxer: backend error", "close failed")

	// Repetitions are held back until the period is over
	ml.m.Lock()
	require.Equal(t, map[string]int{
		"errorf-1":    2,
		"errorf-2":    1,
		"infof-3":     1,
		"open failed": 1,
	}, ml.msgs)
	ml.m.Unlock()
	require.Eventually(t, func() bool { return ml.count("astimuxer: backend error (repeated 2 times)") == 1 }, 2*time.Second, 50*time.Millisecond)
	ml.m.Lock()
	require.Equal(t, map[string]int{
		"astimuxer: backend error (repeated 2 times)": 1,
		"errorf-1":                   2,
		"errorf-1 (repeated once)":   1,
		"errorf-2":                   1,
		"infof-3":                    1,
		"infof-3 (repeated 2 times)": 1,
		"open failed":                1,
	}, ml.msgs)
	ml.msgs = map[string]int{}
	ml.m.Unlock()

	// Close writes pending repetitions
	l.Infof("purge")
	l.Infof("purge")
	l.Close()
	ml.m.Lock()
	require.Equal(t, map[string]int{
		"purge":                 1,
		"purge (repeated once)": 1,
	}, ml.msgs)
	ml.m.Unlock()
}

func TestEventLoggerNoMerging(t *testing.T) {
	ml := newMockedLogger()
	l := newEventLogger(ml).Start(context.Background())
	defer l.Close()
	l.Infof("msg")
	l.Infof("msg")
	require.Equal(t, 2, ml.count("msg"))
}
