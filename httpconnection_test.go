package signalr

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// negotiatePlan is one canned negotiate response, consumed in call order.
type negotiatePlan struct {
	status int
	body   string
}

// scenarioDoer is a hand-rolled Doer covering negotiate, long-poll GET/POST,
// and session-teardown DELETE in one fake, the way the teacher hand-rolls
// testingConnection for its own server-side tests.
type scenarioDoer struct {
	mu             sync.Mutex
	negotiatePlans []negotiatePlan
	negotiateCalls []*http.Request
	negotiateGate  chan struct{} // closed to release a blocked first negotiate call

	pollResponses []fakeResponse
	pollCount     int
	deletes       int
}

func (d *scenarioDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/negotiate") {
		d.mu.Lock()
		idx := len(d.negotiateCalls)
		d.negotiateCalls = append(d.negotiateCalls, req)
		gate := d.negotiateGate
		d.mu.Unlock()

		if idx == 0 && gate != nil {
			<-gate
		}

		d.mu.Lock()
		plan := d.negotiatePlans[min(idx, len(d.negotiatePlans)-1)]
		d.mu.Unlock()
		return &http.Response{StatusCode: plan.status, Body: io.NopCloser(strings.NewReader(plan.body))}, nil
	}

	switch req.Method {
	case http.MethodGet:
		d.mu.Lock()
		idx := d.pollCount
		d.pollCount++
		if idx >= len(d.pollResponses) {
			// Scripted polls exhausted: hold this poll open, like a server
			// with nothing to send, so the session stays up until Stop.
			d.mu.Unlock()
			select {}
		}
		r := d.pollResponses[idx]
		d.mu.Unlock()
		return &http.Response{StatusCode: r.status, Body: io.NopCloser(strings.NewReader(r.body))}, nil

	case http.MethodDelete:
		d.mu.Lock()
		d.deletes++
		d.mu.Unlock()
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil

	default:
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
}

func (d *scenarioDoer) negotiateCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.negotiateCalls)
}

func (d *scenarioDoer) negotiateAuthHeader(call int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.negotiateCalls[call].Header.Get("Authorization")
}

// recordingConnDelegate implements ConnectionDelegate with one buffered
// channel per event -- open, fail and close are each expected to fire at
// most once per SPEC_FULL.md §4.5's exactly-one-terminal-event guarantee,
// while data may arrive several times.
type recordingConnDelegate struct {
	openCh  chan string
	dataCh  chan []byte
	failCh  chan error
	closeCh chan error
}

func newRecordingConnDelegate() *recordingConnDelegate {
	return &recordingConnDelegate{
		openCh:  make(chan string, 1),
		dataCh:  make(chan []byte, 8),
		failCh:  make(chan error, 1),
		closeCh: make(chan error, 1),
	}
}

func (d *recordingConnDelegate) ConnectionDidOpen(id string)          { d.openCh <- id }
func (d *recordingConnDelegate) ConnectionDidReceiveData(data []byte) { d.dataCh <- data }
func (d *recordingConnDelegate) ConnectionDidFailToOpen(err error)    { d.failCh <- err }
func (d *recordingConnDelegate) ConnectionDidClose(err error)         { d.closeCh <- err }

const sampleConnectionID = "6baUtSEmluCoKvmUIqLUJw"

func v1PayloadBody(connectionID string, kinds ...string) string {
	var transports []string
	for _, k := range kinds {
		transports = append(transports, `{"transport":"`+k+`","transferFormats":["Text","Binary"]}`)
	}
	return `{"connectionId":"` + connectionID + `","connectionToken":"tok-` + connectionID +
		`","negotiateVersion":1,"availableTransports":[` + strings.Join(transports, ",") + `]}`
}

var _ = Describe("HTTPConnection", func() {
	Context("happy path over long-polling", func() {
		It("opens once with the negotiated connectionId and delivers data unchanged", func() {
			doer := &scenarioDoer{
				negotiatePlans: []negotiatePlan{{status: http.StatusOK, body: v1PayloadBody(sampleConnectionID, "LongPolling")}},
				pollResponses: []fakeResponse{
					{status: http.StatusOK, body: ""},
					{status: http.StatusOK, body: "payload-bytes"},
				},
			}
			conn, err := NewHTTPConnection(context.Background(), "http://example/hub", WithHTTPClient(doer))
			Expect(err).NotTo(HaveOccurred())
			delegate := newRecordingConnDelegate()
			conn.SetDelegate(delegate)

			Expect(conn.Start(context.Background())).To(Succeed())

			Eventually(delegate.openCh, time.Second).Should(Receive(Equal(sampleConnectionID)))
			Eventually(delegate.dataCh, time.Second).Should(Receive(Equal([]byte("payload-bytes"))))
			Expect(conn.Send([]byte("hi"))).To(Succeed())

			conn.Stop(nil)
			Eventually(delegate.closeCh, time.Second).Should(Receive(BeNil()))
		})
	})

	Context("redirect once", func() {
		It("negotiates twice, bearing the redirect token on the second call, and opens with the second response's id", func() {
			doer := &scenarioDoer{
				negotiatePlans: []negotiatePlan{
					{status: http.StatusOK, body: `{"url":"http://b/","accessToken":"t"}`},
					{status: http.StatusOK, body: v1PayloadBody("redirected-id", "LongPolling")},
				},
				pollResponses: []fakeResponse{{status: http.StatusOK, body: ""}},
			}
			conn, err := NewHTTPConnection(context.Background(), "http://a/hub", WithHTTPClient(doer))
			Expect(err).NotTo(HaveOccurred())
			delegate := newRecordingConnDelegate()
			conn.SetDelegate(delegate)

			Expect(conn.Start(context.Background())).To(Succeed())

			Eventually(delegate.openCh, time.Second).Should(Receive(Equal("redirected-id")))
			Expect(doer.negotiateCallCount()).To(Equal(2))
			Expect(doer.negotiateAuthHeader(1)).To(Equal("Bearer t"))
			Expect(conn.currentURL()).To(Equal("http://b/"))
		})
	})

	Context("empty transport list", func() {
		It("fails to open with a negotiation error", func() {
			doer := &scenarioDoer{
				negotiatePlans: []negotiatePlan{{status: http.StatusOK, body: `{"connectionId":"x","connectionToken":"y","negotiateVersion":1,"availableTransports":[]}`}},
			}
			conn, err := NewHTTPConnection(context.Background(), "http://example/hub", WithHTTPClient(doer))
			Expect(err).NotTo(HaveOccurred())
			delegate := newRecordingConnDelegate()
			conn.SetDelegate(delegate)

			Expect(conn.Start(context.Background())).To(Succeed())

			var negErr *NegotiationError
			Eventually(delegate.failCh, time.Second).Should(Receive(BeAssignableToTypeOf(negErr)))
			Consistently(delegate.openCh, 50*time.Millisecond).ShouldNot(Receive())
		})
	})

	Context("an explicit error negotiation response", func() {
		It("fails to open wrapping the server's message", func() {
			doer := &scenarioDoer{
				negotiatePlans: []negotiatePlan{{status: http.StatusOK, body: `{"error":"server is full"}`}},
			}
			conn, err := NewHTTPConnection(context.Background(), "http://example/hub", WithHTTPClient(doer))
			Expect(err).NotTo(HaveOccurred())
			delegate := newRecordingConnDelegate()
			conn.SetDelegate(delegate)

			Expect(conn.Start(context.Background())).To(Succeed())

			Eventually(delegate.failCh, time.Second).Should(Receive(MatchError(ContainSubstring("server is full"))))
		})
	})

	Context("stop racing an in-flight negotiate", func() {
		It("never opens, and fires exactly one of ConnectionDidFailToOpen or a synthesized ConnectionDidClose", func() {
			gate := make(chan struct{})
			doer := &scenarioDoer{
				negotiatePlans: []negotiatePlan{{status: http.StatusOK, body: v1PayloadBody(sampleConnectionID, "LongPolling")}},
				negotiateGate:  gate,
			}
			conn, err := NewHTTPConnection(context.Background(), "http://example/hub", WithHTTPClient(doer))
			Expect(err).NotTo(HaveOccurred())
			delegate := newRecordingConnDelegate()
			conn.SetDelegate(delegate)

			Expect(conn.Start(context.Background())).To(Succeed())
			go conn.Stop(nil)
			// Give Stop a moment to reach the start barrier before letting
			// negotiate proceed, matching the spec's stop-during-connecting race.
			time.Sleep(20 * time.Millisecond)
			close(gate)

			Eventually(func() bool {
				select {
				case <-delegate.failCh:
					return true
				case <-delegate.closeCh:
					return true
				default:
					return false
				}
			}, time.Second).Should(BeTrue())
			Consistently(delegate.openCh, 50*time.Millisecond).ShouldNot(Receive())
		})
	})

	Context("invalid state", func() {
		It("rejects a second Start with ErrInvalidState", func() {
			doer := &scenarioDoer{
				negotiatePlans: []negotiatePlan{{status: http.StatusOK, body: v1PayloadBody(sampleConnectionID, "LongPolling")}},
				pollResponses:  []fakeResponse{{status: http.StatusOK, body: ""}},
			}
			conn, err := NewHTTPConnection(context.Background(), "http://example/hub", WithHTTPClient(doer))
			Expect(err).NotTo(HaveOccurred())
			delegate := newRecordingConnDelegate()
			conn.SetDelegate(delegate)

			Expect(conn.Start(context.Background())).To(Succeed())
			Expect(conn.Start(context.Background())).To(MatchError(ErrInvalidState))
		})

		It("rejects Send before the connection is connected", func() {
			doer := &scenarioDoer{negotiatePlans: []negotiatePlan{{status: http.StatusOK, body: v1PayloadBody(sampleConnectionID, "LongPolling")}}}
			conn, err := NewHTTPConnection(context.Background(), "http://example/hub", WithHTTPClient(doer))
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Send([]byte("x"))).To(MatchError(ErrInvalidState))
		})
	})
})
