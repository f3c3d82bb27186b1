package marker

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMissing(t *testing.T) {
	code, found, err := Read(filepath.Join(t.TempDir(), "a1"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, code)
}

func TestWriteRead(t *testing.T) {
	path := Path(t.TempDir(), "a1")
	require.NoError(t, Write(path, 42))

	code, found, err := Read(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, code)

	_, err = os.Stat(path + TempSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestParse(t *testing.T) {
	assert.Equal(t, 0, Parse([]byte("0\n")))
	assert.Equal(t, 130, Parse([]byte(" 130 ")))
	assert.Equal(t, 1, Parse([]byte("")))
	assert.Equal(t, 1, Parse([]byte("garbage")))
}

// The reader must only ever see the marker absent or holding a complete
// value, even while larger and larger payloads are written through the temp
// path.
func TestMarkerAtomicity(t *testing.T) {
	dir := t.TempDir()
	final := Path(dir, "agent")
	tmp := final + TempSuffix

	const rounds = 200
	valid := make(map[string]bool, rounds)
	payloads := make([]string, rounds)
	for i := 0; i < rounds; i++ {
		payloads[i] = strings.Repeat(strconv.Itoa(i%10), (i+1)*512)
		valid[payloads[i]] = true
	}

	var stop atomic.Bool
	var bad atomic.Int32
	var seen atomic.Int32
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			data, err := os.ReadFile(final)
			if err != nil {
				if !os.IsNotExist(err) {
					bad.Add(1)
				}
				continue
			}
			seen.Add(1)
			if !valid[string(data)] {
				bad.Add(1)
			}
		}
	}()

	for _, p := range payloads {
		require.NoError(t, os.WriteFile(tmp, []byte(p), 0o600))
		require.NoError(t, os.Rename(tmp, final))
	}
	// Give the reader a chance to observe the final value.
	time.Sleep(10 * time.Millisecond)
	stop.Store(true)
	wg.Wait()

	assert.Equal(t, int32(0), bad.Load(), "reader observed a partial marker")
	assert.Greater(t, seen.Load(), int32(0))
}

func TestPollerStopsWhenDone(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(2*time.Millisecond, func() bool {
		return ticks.Add(1) >= 3
	})

	p.Start()
	p.Start()
	require.Eventually(t, func() bool { return !p.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), ticks.Load())

	p.Start()
	require.Eventually(t, func() bool { return !p.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, int32(4), ticks.Load())
}

func TestPollerStop(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(time.Millisecond, func() bool {
		ticks.Add(1)
		return false
	})

	p.Start()
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())

	time.Sleep(10 * time.Millisecond)
	n := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), n+1)
}
