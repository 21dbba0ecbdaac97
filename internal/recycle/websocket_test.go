package recycle

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var errInternalForTest = errors.New("model crashed")

var _ = Describe("WebSocket", func() {
	var (
		detector   *mockDetector
		sessions   *Sessions
		httpServer *httptest.Server
		conn       *websocket.Conn
		handshake  *http.Response
	)

	BeforeEach(func() {
		detector = newMockDetector(twoItemReply)
		sessions = NewSessions()
		service := NewServiceWithDeps(detector, Pipeline{}, newMockDB(), newMockStorage(), nil, &mockIDGenerator{}, &mockTimeSource{})
		httpServer = httptest.NewServer(NewServer(service, sessions, nil, BasicAuth{}))

		var err error
		wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
		conn, handshake, err = websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		conn.Close()
		httpServer.Close()
	})

	receive := func() wsMessage {
		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
		_, data, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())

		var msg wsMessage
		Expect(json.Unmarshal(data, &msg)).To(Succeed())
		return msg
	}

	It("should set the session cookie on the handshake", func() {
		var names []string
		for _, c := range handshake.Cookies() {
			names = append(names, c.Name)
		}
		Expect(names).To(ContainElement(sessionCookieName))
		Expect(sessions.Len()).To(Equal(1))
	})

	When("a binary frame is sent", func() {
		It("should reply with the capture", func() {
			Expect(conn.WriteMessage(websocket.BinaryMessage, jpegFrame(64, 48))).To(Succeed())

			msg := receive()
			Expect(msg.Type).To(Equal("result"))
			Expect(msg.Result).NotTo(BeNil())
			Expect(msg.Result.Count).To(Equal(2))
			Expect(msg.Result.Width).To(Equal(64))
		})
	})

	When("a JSON frame is sent", func() {
		It("should use its display size", func() {
			req := map[string]any{
				"image":          base64.StdEncoding.EncodeToString(jpegFrame(64, 48)),
				"display_width":  128,
				"display_height": 96,
			}
			Expect(conn.WriteJSON(req)).To(Succeed())

			msg := receive()
			Expect(msg.Type).To(Equal("result"))
			Expect(msg.Result.DisplayWidth).To(Equal(128))
			Expect(msg.Result.Placements[0].Display.X).To(BeNumerically("~", 12.8, 1e-9))
		})
	})

	When("an invalid text message is sent", func() {
		It("should reply with an error", func() {
			Expect(conn.WriteMessage(websocket.TextMessage, []byte("hello"))).To(Succeed())

			msg := receive()
			Expect(msg.Type).To(Equal("error"))
			Expect(msg.Status).To(Equal(http.StatusBadRequest))
			Expect(detector.callCount()).To(BeZero())
		})
	})

	When("the detector fails", func() {
		BeforeEach(func() {
			detector.err = errInternalForTest
		})

		It("should reply with an error status", func() {
			Expect(conn.WriteMessage(websocket.BinaryMessage, jpegFrame(16, 16))).To(Succeed())

			msg := receive()
			Expect(msg.Type).To(Equal("error"))
			Expect(msg.Status).To(Equal(http.StatusInternalServerError))
			Expect(msg.Error).To(Equal("Internal server error"))
		})
	})

	When("a frame arrives while a cycle is in flight", func() {
		It("should drop it", func() {
			started, release := detector.blocking()

			Expect(conn.WriteMessage(websocket.BinaryMessage, jpegFrame(16, 16))).To(Succeed())
			Eventually(started).Should(Receive())

			Expect(conn.WriteMessage(websocket.BinaryMessage, jpegFrame(16, 16))).To(Succeed())
			// the second frame is read and refused before the first is released
			Consistently(detector.callCount, 200*time.Millisecond).Should(Equal(1))
			release()

			msg := receive()
			Expect(msg.Type).To(Equal("result"))
			Expect(detector.callCount()).To(Equal(1))
		})
	})
})
