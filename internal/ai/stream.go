package ai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"
)

// MaxRecordBytes caps one NDJSON record. Longer lines are discarded whole.
const MaxRecordBytes = 2 * 1024 * 1024

// ChatStream reads newline-delimited JSON records from an open response body.
// It is not safe for concurrent use.
type ChatStream struct {
	body    io.ReadCloser
	r       *bufio.Reader
	line    []byte
	skipped int
}

func newChatStream(body io.ReadCloser) *ChatStream {
	return &ChatStream{body: body, r: bufio.NewReaderSize(body, 64*1024)}
}

// Next returns the next record. Lines that fail to parse or exceed
// MaxRecordBytes are skipped. At the end of the body it returns io.EOF.
func (s *ChatStream) Next() (StreamRecord, error) {
	for {
		line, oversized, err := s.readLine()
		switch {
		case oversized:
			s.skipped++
			log.Printf("[ChatStream] skip oversized record limit=%d", MaxRecordBytes)
		case len(line) > 0:
			if rec, ok := s.decode(line); ok {
				return rec, nil
			}
		}
		if err != nil {
			return StreamRecord{}, err
		}
	}
}

// readLine returns the next line without its terminator. An oversized line
// is consumed up to its newline and reported with an empty slice.
func (s *ChatStream) readLine() (line []byte, oversized bool, err error) {
	s.line = s.line[:0]
	for {
		chunk, err := s.r.ReadSlice('\n')
		if !oversized {
			if len(s.line)+len(chunk) > MaxRecordBytes+1 {
				oversized = true
				s.line = s.line[:0]
			} else {
				s.line = append(s.line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			return nil, true, err
		}
		return bytes.TrimSpace(s.line), false, err
	}
}

func (s *ChatStream) decode(line []byte) (StreamRecord, bool) {
	var decoded ollamaStreamResp
	if err := json.Unmarshal(line, &decoded); err != nil {
		s.skipped++
		log.Printf("[ChatStream] skip malformed record err=%v", err)
		return StreamRecord{}, false
	}

	rec := StreamRecord{
		Done:            decoded.Done,
		DoneReason:      decoded.DoneReason,
		PromptEvalCount: decoded.PromptEvalCount,
		EvalCount:       decoded.EvalCount,
		TotalDuration:   time.Duration(decoded.TotalDuration),
		Error:           decoded.Error,
	}
	if decoded.Message != nil && decoded.Message.Content != nil {
		rec.Content = *decoded.Message.Content
	}
	return rec, true
}

// Skipped reports how many malformed or oversized lines were dropped so far.
func (s *ChatStream) Skipped() int { return s.skipped }

// Close releases the upstream connection.
func (s *ChatStream) Close() error {
	return s.body.Close()
}
