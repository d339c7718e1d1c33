// Package logger implements a per-key in-memory log buffer for fetch
// cycles. Detail lines accumulate while a source fetch is running: on
// failure the whole buffer is replayed followed by the final error, on
// success the buffer is dropped and one short line is written. A
// dedicated goroutine owns the buffers, so no mutex is needed.
package logger

import (
	"bytes"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	key     string
	message string
	summary string
	err     error
	when    time.Time
}

var ch = make(chan cmd, 128) // buffered for bursts of parallel sources

// Begin starts buffering detail lines for key.
func Begin(key string) { ch <- cmd{act: actBegin, key: key, when: time.Now()} }

// Append adds one detail line to the key's buffer. Lines logged for an
// unknown key go straight to the process log.
func Append(key, msg string) {
	ch <- cmd{act: actAppend, key: key, message: msg, when: time.Now()}
}

// Success drops the buffer and writes one short summary line.
func Success(key, summary string) {
	ch <- cmd{act: actSuccess, key: key, summary: summary, when: time.Now()}
}

// FlushError replays the buffered detail lines and then the final error.
func FlushError(key string, err error) {
	ch <- cmd{act: actFlushErr, key: key, err: err, when: time.Now()}
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.key] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.key]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message)
			}

		case actSuccess:
			log.Printf("[%s][fetch] ✔ %s", c.key, c.summary)
			delete(buffers, c.key)

		case actFlushErr:
			if b := buffers[c.key]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					if ln != "" {
						log.Print(ln)
					}
				}
				delete(buffers, c.key)
			}
			log.Printf("[%s][ERROR] %v", c.key, c.err)
		}
	}
}
