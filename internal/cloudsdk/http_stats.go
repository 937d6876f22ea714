package cloudsdk

import (
	"sync/atomic"
	"time"

	"github.com/imroc/req/v3"
)

// HTTPStats is a point in time view of the api traffic
type HTTPStats struct {
	Requests      int64     `json:"requests"`
	Failures      int64     `json:"failures"`
	BytesSent     int64     `json:"bytesSent"`
	BytesRecv     int64     `json:"bytesRecv"`
	LastRequestAt time.Time `json:"lastRequestAt,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
}

type httpStats struct {
	requests  atomic.Int64
	failures  atomic.Int64
	bytesSent atomic.Int64
	bytesRecv atomic.Int64
	lastReqNs atomic.Int64

	lastErrorValue atomic.Value // string
}

func newHTTPStats() *httpStats {
	s := &httpStats{}
	s.lastErrorValue.Store("")
	return s
}

func (s *httpStats) onResponse(resp *req.Response) {
	s.requests.Add(1)
	s.lastReqNs.Store(time.Now().UnixNano())

	if resp == nil {
		return
	}
	if resp.Err != nil {
		s.failures.Add(1)
		s.lastErrorValue.Store(resp.Err.Error())
		return
	}
	if resp.Request != nil && resp.Request.RawRequest != nil && resp.Request.RawRequest.ContentLength > 0 {
		s.bytesSent.Add(resp.Request.RawRequest.ContentLength)
	}
	if resp.Response != nil && resp.ContentLength > 0 {
		s.bytesRecv.Add(resp.ContentLength)
	}
	if resp.IsErrorState() {
		s.failures.Add(1)
		s.lastErrorValue.Store(resp.Status)
	}
}

func (s *httpStats) snapshot() HTTPStats {
	out := HTTPStats{
		Requests:  s.requests.Load(),
		Failures:  s.failures.Load(),
		BytesSent: s.bytesSent.Load(),
		BytesRecv: s.bytesRecv.Load(),
		LastError: s.lastErrorValue.Load().(string),
	}
	if ns := s.lastReqNs.Load(); ns > 0 {
		out.LastRequestAt = time.Unix(0, ns)
	}
	return out
}
